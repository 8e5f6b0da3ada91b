// Package cli implements the sdturbod command tree.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"sdturbo/internal/config"
)

// Options are the persistent flags shared by every command.
type Options struct {
	ConfigPath string
	Sets       []string
	LogLevel   string

	stdout io.Writer
	stderr io.Writer
}

// resolve builds the effective configuration: environment, file, --set
// pairs, then command specific pairs (which win).
func (o *Options) resolve(extra ...string) (config.Config, error) {
	pairs := append([]string(nil), o.Sets...)
	if o.LogLevel != "" {
		pairs = append(pairs, "log_level="+o.LogLevel)
	}
	pairs = append(pairs, extra...)
	return config.Resolve(o.ConfigPath, pairs)
}

// NewRootCmd constructs the command tree writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &Options{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "sdturbod",
		Short:         "Single-step text-to-image pipeline daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&o.ConfigPath, "config", "", "Config file (.yaml, .json or .toml; defaults to "+config.EnvConfig+")")
	root.PersistentFlags().StringArrayVar(&o.Sets, "set", nil, "Override an option, key=value (repeatable)")
	root.PersistentFlags().StringVar(&o.LogLevel, "log-level", "", "Log level: debug|info|warn|error|off")

	root.AddCommand(newServeCmd(o), newGenerateCmd(o), newModelsCmd(o))
	return root
}

// Execute runs the command tree with args until ctx is canceled.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
