package usecase

import "sync"

// Readiness is a one-shot event. Callbacks registered before Fire run when
// it fires; callbacks registered after run immediately.
type Readiness struct {
	mu      sync.Mutex
	fired   bool
	pending []func()
	done    chan struct{}
}

func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

func (r *Readiness) Fire() {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return
	}
	r.fired = true
	pending := r.pending
	r.pending = nil
	close(r.done)
	r.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

func (r *Readiness) OnReady(fn func()) {
	r.mu.Lock()
	if !r.fired {
		r.pending = append(r.pending, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn()
}

func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

func (r *Readiness) Fired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired
}
