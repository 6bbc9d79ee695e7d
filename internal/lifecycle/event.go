package lifecycle

import (
	"sync"

	"mounterctl/internal/domain"
)

// EventKind classifies controller events.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventProgress
	EventNotice
)

// String returns the string representation of an EventKind.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventProgress:
		return "progress"
	case EventNotice:
		return "notice"
	}
	return "unknown"
}

// Notice is a user-facing outcome of an operation.
type Notice int

const (
	NoticeNone Notice = iota
	NoticeRunFailed
	NoticeTerminateFailed
	NoticeUpToDate
	NoticeCheckFailed
	NoticeCannotUpdateWhileRunning
	NoticeUpdated
	NoticeUpdateFailed
)

// String returns the string representation of a Notice.
func (n Notice) String() string {
	switch n {
	case NoticeRunFailed:
		return "run-failed"
	case NoticeTerminateFailed:
		return "terminate-failed"
	case NoticeUpToDate:
		return "up-to-date"
	case NoticeCheckFailed:
		return "check-failed"
	case NoticeCannotUpdateWhileRunning:
		return "cannot-update-while-running"
	case NoticeUpdated:
		return "updated"
	case NoticeUpdateFailed:
		return "update-failed"
	}
	return "none"
}

// Message is the default user-facing text for a notice.
func (n Notice) Message() string {
	switch n {
	case NoticeRunFailed:
		return "Failed to run the mounter."
	case NoticeTerminateFailed:
		return "Failed to terminate the mounter."
	case NoticeUpToDate:
		return "The mounter is up to date."
	case NoticeCheckFailed:
		return "Failed to check for updates."
	case NoticeCannotUpdateWhileRunning:
		return "An update is available but the mounter is running. Terminate it to update."
	case NoticeUpdated:
		return "The mounter was updated."
	case NoticeUpdateFailed:
		return "Failed to update the mounter."
	}
	return ""
}

// Event is delivered to observers. State is set on every event; Progress
// is meaningful for EventProgress; Notice and Err for EventNotice.
type Event struct {
	Kind     EventKind
	State    domain.LaunchState
	Progress int
	Notice   Notice
	Err      error
}

// Observer receives controller events on a single dispatch goroutine, in
// the order they were produced.
type Observer func(Event)

// dispatcher queues events without blocking the producer and delivers
// them in order.
type dispatcher struct {
	observers []Observer

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closed  bool
	stopped chan struct{}
}

func newDispatcher(observers []Observer) *dispatcher {
	d := &dispatcher{
		observers: observers,
		stopped:   make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) push(ev Event) {
	d.mu.Lock()
	if !d.closed {
		d.queue = append(d.queue, ev)
		d.cond.Signal()
	}
	d.mu.Unlock()
}

// close stops accepting events and waits until queued ones are delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Signal()
	}
	d.mu.Unlock()
	<-d.stopped
}

func (d *dispatcher) loop() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, ev := range batch {
			for _, obs := range d.observers {
				obs(ev)
			}
		}
	}
}
