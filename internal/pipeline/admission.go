package pipeline

// beginGeneration claims the single in-flight slot without waiting.
// Returns a release func to be deferred.
func (p *Pipeline) beginGeneration() (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateReady:
	case StateGenerating:
		return func() {}, busyError{op: "generation"}
	default:
		return func() {}, notReadyError{state: p.state}
	}
	select {
	case p.genCh <- struct{}{}:
	default:
		return func() {}, busyError{op: "generation"}
	}
	p.state = StateGenerating
	p.runs++
	return func() {
		p.mu.Lock()
		if p.state == StateGenerating {
			p.state = StateReady
		}
		p.mu.Unlock()
		<-p.genCh
	}, nil
}
