// Package service adapts the pipeline to the HTTP API and the CLI: it
// encodes images, converts status and progress into API types, and maps
// request fields onto pipeline requests.
package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sdturbo/internal/imageio"
	"sdturbo/internal/pipeline"
	"sdturbo/internal/progress"
	"sdturbo/internal/registry"
	"sdturbo/pkg/types"
)

// Service serves one pipeline.
type Service struct {
	p      *pipeline.Pipeline
	models []registry.Descriptor
	format imageio.Format
	start  time.Time
	log    zerolog.Logger
}

// New wraps p. format is the default output encoding.
func New(p *pipeline.Pipeline, models []registry.Descriptor, format imageio.Format, log zerolog.Logger) *Service {
	if format == "" {
		format = imageio.PNG
	}
	return &Service{p: p, models: models, format: format, start: time.Now(), log: log}
}

// Encoded is one rendered image.
type Encoded struct {
	Image  pipeline.Image
	Format imageio.Format
	Data   []byte
}

// Models lists the pipeline models in load order.
func (s *Service) Models() []types.Model {
	out := make([]types.Model, 0, len(s.models))
	for _, d := range s.models {
		out = append(out, modelView(d))
	}
	return out
}

func modelView(d registry.Descriptor) types.Model {
	return types.Model{Name: d.Name, Label: d.Kind.Label(), URL: d.URL, Size: d.Size}
}

// Ready reports whether generations are accepted.
func (s *Service) Ready() bool { return s.p.Ready() }

// Status builds the /status payload.
func (s *Service) Status() types.StatusResponse {
	st := s.p.Status()
	resp := types.StatusResponse{
		State:         string(st.State),
		Provider:      st.Provider,
		Progress:      st.Progress,
		Error:         st.Error,
		Generations:   st.Generations,
		UptimeSeconds: int64(time.Since(s.start).Seconds()),
		Models:        make([]types.ModelStatus, 0, len(st.Models)),
	}
	if !st.LastLoad.IsZero() {
		resp.LastLoadUnix = st.LastLoad.Unix()
	}
	for _, m := range st.Models {
		resp.Models = append(resp.Models, types.ModelStatus{
			Model:     modelView(registry.Descriptor{Kind: m.Kind, Name: m.Name, URL: m.URL, Size: m.Size}),
			State:     m.State.String(),
			Error:     m.Error,
			FetchMS:   m.FetchTime.Milliseconds(),
			CompileMS: m.CompileTime.Milliseconds(),
		})
	}
	return resp
}

// Load fetches and compiles the models.
func (s *Service) Load(ctx context.Context, refresh bool) (types.LoadResponse, error) {
	start := time.Now()
	err := s.p.Load(ctx, refresh)
	resp := types.LoadResponse{State: string(s.p.Status().State), DurationMS: time.Since(start).Milliseconds()}
	return resp, err
}

// Render generates and encodes the images of one request.
func (s *Service) Render(ctx context.Context, req types.GenerateRequest) (*pipeline.Result, []Encoded, error) {
	format := s.format
	if req.Format != "" {
		f, err := imageio.ParseFormat(req.Format)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", pipeline.ErrInvalidRequest, err)
		}
		format = f
	}
	res, err := s.p.Generate(ctx, pipeline.Request{Prompt: req.Prompt, Images: req.Images, Seed: req.Seed})
	if err != nil {
		return nil, nil, err
	}
	out := make([]Encoded, 0, len(res.Images))
	for _, img := range res.Images {
		data, err := imageio.EncodeNCHW(img.Pixels, img.Width, img.Height, format)
		if err != nil {
			return nil, nil, &pipeline.GenerationError{ID: res.ID, Stage: "encode", Image: img.Index, Err: err}
		}
		out = append(out, Encoded{Image: img, Format: format, Data: data})
	}
	s.log.Debug().Str("id", res.ID).Int("images", len(out)).Str("format", string(format)).Msg("encoded")
	return res, out, nil
}

// Generate renders and returns base64 images.
func (s *Service) Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResponse, error) {
	res, encoded, err := s.Render(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &types.GenerateResponse{
		ID:           res.ID,
		TextEncodeMS: ms(res.TextEncode),
		Images:       make([]types.ImageData, 0, len(encoded)),
	}
	for _, e := range encoded {
		resp.Images = append(resp.Images, types.ImageData{
			Index:  e.Image.Index,
			Width:  e.Image.Width,
			Height: e.Image.Height,
			Format: string(e.Format),
			Seed:   e.Image.Seed,
			Data:   base64.StdEncoding.EncodeToString(e.Data),
			Timing: types.ImageTiming{
				DenoiseMS: ms(e.Image.Timing.Denoise),
				DecodeMS:  ms(e.Image.Timing.Decode),
				TotalMS:   ms(e.Image.Timing.Total),
			},
		})
	}
	return resp, nil
}

// WatchProgress sends the current progress, then every update, to fn.
func (s *Service) WatchProgress(fn func(types.ProgressEvent)) (cancel func()) {
	tr := s.p.Tracker()
	cancel = tr.Subscribe(func(u progress.Update) { fn(progressEvent(u)) })
	loading := s.p.Status().State == pipeline.StateLoading
	fn(types.ProgressEvent{Total: tr.Total(), Done: !loading})
	return cancel
}

func progressEvent(u progress.Update) types.ProgressEvent {
	if u.Done {
		return types.ProgressEvent{Total: u.Total, Done: true}
	}
	return types.ProgressEvent{Model: u.Kind.String(), Stage: u.Stage.String(), Total: u.Total}
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
