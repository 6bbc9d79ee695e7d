package lifecycle

// Op tracks one asynchronous controller operation.
type Op struct {
	done    chan struct{}
	err     error
	skipped bool
}

func newOp() *Op {
	return &Op{done: make(chan struct{})}
}

// SkippedOp returns a finished Op marked as skipped. The controller hands
// it out when the current state does not permit an operation.
func SkippedOp() *Op {
	op := newOp()
	op.skipped = true
	close(op.done)
	return op
}

func (o *Op) finish(err error) {
	o.err = err
	close(o.done)
}

// Done is closed when the operation has finished.
func (o *Op) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation finishes and returns its error.
func (o *Op) Wait() error {
	<-o.done
	return o.err
}

// Skipped reports whether the operation was a no-op because the state
// did not permit it.
func (o *Op) Skipped() bool {
	return o.skipped
}
