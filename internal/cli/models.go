package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sdturbo/internal/config"
	"sdturbo/internal/registry"
)

func newModelsCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the pipeline models and where they are fetched from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve()
			if err != nil {
				return err
			}
			ds, err := registry.Descriptors(cfg.Model)
			if err != nil {
				return &config.ConfigError{Key: "model", Err: err}
			}
			tw := tabwriter.NewWriter(o.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLABEL\tSIZE\tURL")
			for _, d := range ds {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Kind.Label(), d.Size, d.URL)
			}
			return tw.Flush()
		},
	}
}
