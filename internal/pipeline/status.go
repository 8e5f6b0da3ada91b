package pipeline

// Status builds a detailed status view for /status and the CLI.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		State:       p.state,
		Provider:    p.compiler.Provider(),
		Error:       p.err,
		Progress:    p.tracker.Total(),
		Generations: p.runs,
		LastLoad:    p.lastLoad,
		Models:      make([]ModelStatus, 0, len(p.models)),
	}
	for _, m := range p.models {
		st.Models = append(st.Models, ModelStatus{
			Kind:        m.desc.Kind,
			Name:        m.desc.Name,
			URL:         m.desc.URL,
			Size:        m.desc.Size,
			State:       m.state,
			Error:       m.err,
			FetchTime:   m.fetchTime,
			CompileTime: m.compileTime,
		})
	}
	return st
}
