package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeStep struct {
	running bool
	err     error
}

// scriptedProbe replays steps in order and repeats the last one forever.
type scriptedProbe struct {
	mu    sync.Mutex
	steps []probeStep
	calls int
}

func (p *scriptedProbe) IsRunning(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	return p.steps[i].running, p.steps[i].err
}

func (p *scriptedProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type livenessRecorder struct {
	mu     sync.Mutex
	events []Liveness
}

func (r *livenessRecorder) record(ev Liveness) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *livenessRecorder) snapshot() []Liveness {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Liveness(nil), r.events...)
}

func (p *Poller) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func transitions(events []Liveness) []bool {
	var out []bool
	for _, ev := range events {
		if !ev.Initial {
			out = append(out, ev.Running)
		}
	}
	return out
}

func runPoller(t *testing.T, probe *scriptedProbe, minCalls int) (*Poller, *livenessRecorder) {
	t.Helper()
	p := NewPoller(probe, time.Millisecond)
	rec := &livenessRecorder{}
	p.Subscribe(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	require.Eventually(t, func() bool { return probe.Calls() >= minCalls }, 5*time.Second, time.Millisecond)
	cancel()
	<-done
	return p, rec
}

func TestPollerEmitsOnlyTransitions(t *testing.T) {
	probe := &scriptedProbe{steps: []probeStep{{running: true}, {running: false}, {running: true}}}
	_, rec := runPoller(t, probe, 10)

	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, Liveness{Running: true, Initial: true}, events[0])
	assert.Equal(t, []bool{false, true}, transitions(events))
}

func TestPollerRepeatedValuesAreSilent(t *testing.T) {
	probe := &scriptedProbe{steps: []probeStep{{running: false}, {running: false}, {running: false}}}
	_, rec := runPoller(t, probe, 6)

	events := rec.snapshot()
	assert.Equal(t, []Liveness{{Running: false, Initial: true}}, events)
}

func TestPollerSwallowsProbeErrors(t *testing.T) {
	boom := errors.New("probe exploded")
	probe := &scriptedProbe{steps: []probeStep{
		{err: boom},
		{running: false},
		{err: boom},
		{err: boom},
		{running: true},
	}}
	p, rec := runPoller(t, probe, 8)

	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, Liveness{Running: false, Initial: true}, events[0])
	assert.Equal(t, []bool{true}, transitions(events))

	running, ok := p.Last()
	assert.True(t, ok)
	assert.True(t, running)
}

func TestPollerSubscribeReplaysLastValue(t *testing.T) {
	p := NewPoller(&scriptedProbe{steps: []probeStep{{running: true}}}, time.Millisecond)

	early := &livenessRecorder{}
	p.Subscribe(early.record)
	assert.Empty(t, early.snapshot())

	p.publish(Liveness{Running: true})

	late := &livenessRecorder{}
	sub := p.Subscribe(late.record)
	assert.Equal(t, []Liveness{{Running: true, Initial: true}}, late.snapshot())

	sub.Unsubscribe()
	sub.Unsubscribe()
	p.publish(Liveness{Running: false})
	assert.Len(t, late.snapshot(), 1)
	assert.Equal(t, []bool{true, false}, transitions(early.snapshot()))
}

func TestNewPollerDefaultsInterval(t *testing.T) {
	p := NewPoller(&scriptedProbe{}, 0)
	assert.Equal(t, DefaultPollInterval, p.interval)
}
