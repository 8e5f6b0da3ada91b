package pipeline

import (
	"context"
	"errors"
	"time"

	"sdturbo/internal/progress"
	"sdturbo/internal/session"
	"sdturbo/internal/tokenizer"
)

// Load checks engine capabilities, then fetches and compiles each model in
// declared order. A model that fails is logged and recorded and the others
// still load; the pipeline is Ready only when all of them compiled. Any
// previously compiled sessions are closed first. A capability error aborts
// before anything is fetched.
func (p *Pipeline) Load(ctx context.Context, forceRefresh bool) error {
	p.mu.Lock()
	if p.state == StateLoading || p.state == StateGenerating {
		st := p.state
		p.mu.Unlock()
		return busyError{op: string(st)}
	}
	p.state = StateLoading
	p.err = ""
	if err := p.closeSessionsLocked(); err != nil {
		p.log.Warn().Err(err).Msg("close previous sessions")
	}
	for _, m := range p.models {
		m.state = session.NotLoaded
		m.err = ""
		m.fetchTime, m.compileTime = 0, 0
	}
	tok := p.tok
	p.mu.Unlock()

	ready.Set(0)
	p.tracker.Reset()
	p.cfg.Publisher.Publish(Event{Name: EventLoadStart, Fields: map[string]any{"refresh": forceRefresh}})
	start := time.Now()

	if err := p.compiler.Check(ctx); err != nil {
		return p.finishLoad(start, err)
	}

	if tok == nil || (forceRefresh && p.cfg.Tokenizer == nil) {
		t, err := tokenizer.Load(ctx, p.artifacts, p.cfg.Base, forceRefresh)
		if err != nil {
			return p.finishLoad(start, err)
		}
		p.mu.Lock()
		p.tok = t
		p.mu.Unlock()
	}

	var errs []error
	for _, m := range p.models {
		if err := p.loadModel(ctx, m, forceRefresh); err != nil {
			errs = append(errs, err)
		}
	}
	return p.finishLoad(start, errors.Join(errs...))
}

func (p *Pipeline) loadModel(ctx context.Context, m *model, forceRefresh bool) error {
	log := p.log.With().Str("model", m.desc.Kind.Label()).Logger()

	p.advance(m, session.Fetching)
	t0 := time.Now()
	artifact, err := p.artifacts.Load(ctx, m.desc, forceRefresh)
	if err != nil {
		p.fail(m, err)
		log.Error().Err(err).Msg("fetch failed")
		return err
	}
	fetchTime := time.Since(t0)
	log.Debug().Int("bytes", len(artifact)).Dur("dur", fetchTime).Msg("fetched")
	p.advance(m, session.Fetched)

	p.advance(m, session.Compiling)
	c, err := p.compiler.Compile(ctx, m.desc, artifact)
	if err != nil {
		p.fail(m, err)
		log.Error().Err(err).Msg("compile failed")
		return err
	}
	p.tracker.Report(m.desc.Kind, progress.Compile, 1)

	p.mu.Lock()
	m.compiled = c
	m.fetchTime = fetchTime
	m.compileTime = c.CompileTime
	p.mu.Unlock()
	p.advance(m, session.Ready)
	log.Info().Dur("fetch", fetchTime).Dur("compile", c.CompileTime).Msg("model ready")
	p.cfg.Publisher.Publish(Event{Name: EventModelReady, Model: m.desc.Name, Fields: map[string]any{
		"fetch_ms":   fetchTime.Milliseconds(),
		"compile_ms": c.CompileTime.Milliseconds(),
	}})
	return nil
}

func (p *Pipeline) advance(m *model, to session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := m.state.Transition(to)
	if err != nil {
		p.log.Error().Err(err).Str("model", m.desc.Kind.Label()).Msg("model state")
		return
	}
	m.state = next
}

func (p *Pipeline) fail(m *model, err error) {
	p.advance(m, session.Failed)
	p.mu.Lock()
	m.err = err.Error()
	p.mu.Unlock()
	p.cfg.Publisher.Publish(Event{Name: EventModelFailed, Model: m.desc.Name, Fields: map[string]any{"error": err.Error()}})
}

// finishLoad publishes completion and settles the pipeline state.
func (p *Pipeline) finishLoad(start time.Time, err error) error {
	p.tracker.Finish()

	p.mu.Lock()
	ok := err == nil && p.tok != nil
	for _, m := range p.models {
		ok = ok && m.state == session.Ready
	}
	if ok {
		p.state = StateReady
	} else {
		p.state = StateFailed
		if err == nil {
			err = errors.New("pipeline: load incomplete")
		}
		p.err = err.Error()
	}
	p.lastLoad = time.Now()
	p.mu.Unlock()

	dur := time.Since(start)
	if ok {
		ready.Set(1)
		p.log.Info().Dur("dur", dur).Msg("pipeline ready")
	} else {
		p.log.Error().Err(err).Dur("dur", dur).Msg("pipeline load failed")
	}
	fields := map[string]any{"ok": ok, "dur_ms": dur.Milliseconds()}
	if err != nil {
		fields["error"] = err.Error()
	}
	p.cfg.Publisher.Publish(Event{Name: EventLoadDone, Fields: fields})
	return err
}
