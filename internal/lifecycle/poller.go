package lifecycle

import (
	"context"
	"sync"
	"time"

	"mounterctl/internal/debug"
)

// DefaultPollInterval is the pause between liveness probes.
const DefaultPollInterval = 1240 * time.Millisecond

// LivenessProbe reports whether the helper process is running.
type LivenessProbe interface {
	IsRunning(ctx context.Context) (bool, error)
}

// Liveness is delivered to poller subscribers. Initial marks the first
// observation of a poller run, and the replay handed to new subscribers;
// every other value is a transition.
type Liveness struct {
	Running bool
	Initial bool
}

// Subscription is a handle returned by Poller.Subscribe.
type Subscription struct {
	poller *Poller
	id     int
	once   sync.Once
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.poller.mu.Lock()
		delete(s.poller.subs, s.id)
		s.poller.mu.Unlock()
	})
}

// Poller watches the helper process and reports liveness transitions.
type Poller struct {
	probe    LivenessProbe
	interval time.Duration

	// deliver orders replays against published transitions.
	deliver sync.Mutex

	mu      sync.Mutex
	subs    map[int]func(Liveness)
	nextID  int
	known   bool
	running bool
}

// NewPoller creates a poller. A non-positive interval selects DefaultPollInterval.
func NewPoller(probe LivenessProbe, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]func(Liveness)),
	}
}

// Subscribe registers fn for liveness events. When a value is already
// known it is replayed to fn before Subscribe returns. fn runs on the
// poller goroutine, must not block and must not call Subscribe.
func (p *Poller) Subscribe(fn func(Liveness)) *Subscription {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	known, running := p.known, p.running
	p.mu.Unlock()

	if known {
		fn(Liveness{Running: running, Initial: true})
	}
	return &Subscription{poller: p, id: id}
}

// Last returns the most recent observation. ok is false before the first
// successful probe.
func (p *Poller) Last() (running, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, p.known
}

// Run probes until ctx is done. Probe errors are logged and the loop waits
// one interval before trying again; Run never returns because of them.
func (p *Poller) Run(ctx context.Context) {
	var running bool
	for {
		r, err := p.probe.IsRunning(ctx)
		if err == nil {
			running = r
			p.publish(Liveness{Running: running, Initial: true})
			break
		}
		debug.Logf("poller: initial probe failed: %v", err)
		if !p.sleep(ctx) {
			return
		}
	}

	for p.sleep(ctx) {
		r, err := p.probe.IsRunning(ctx)
		if err != nil {
			debug.Logf("poller: probe failed: %v", err)
			continue
		}
		if r == running {
			continue
		}
		running = r
		debug.Logf("poller: helper running=%t", running)
		p.publish(Liveness{Running: running})
	}
}

func (p *Poller) publish(ev Liveness) {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	p.known = true
	p.running = ev.Running
	fns := make([]func(Liveness), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Poller) sleep(ctx context.Context) bool {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
