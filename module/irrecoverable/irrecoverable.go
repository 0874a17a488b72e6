// Package irrecoverable gives long-lived LLMQ components (the DKG session
// manager, signing engine, share exchange, InstantSend engine) a narrow
// drop-in replacement for panic/log.Fatal: a context that can carry an
// unrecoverable error out to whatever owns the component's lifecycle,
// adapted from the teacher's module/irrecoverable package.
package irrecoverable

import (
	"context"
	"runtime"
)

// Signaler delivers an irrecoverable error to whatever is waiting on the
// other end of errors.
type Signaler struct {
	errors chan<- error
}

// NewSignaler wraps an error channel as a Signaler.
func NewSignaler(errors chan<- error) *Signaler {
	return &Signaler{errors: errors}
}

// Throw sends err and parks the calling goroutine permanently: the caller is
// expected to be a component worker whose failure is fatal to the component.
func (s *Signaler) Throw(err error) {
	s.errors <- err
	runtime.Goexit()
}

// SignalerContext constrains context.Context with a Throw method, so
// components can be handed something that looks like a context.Context but
// can only be constructed via WithSignaler.
type SignalerContext interface {
	context.Context
	Throw(err error)
	sealed()
}

type signalerContext struct {
	context.Context
	signaler *Signaler
}

func (s signalerContext) sealed() {}

func (s signalerContext) Throw(err error) {
	s.signaler.Throw(err)
}

// WithSignaler attaches a Signaler to ctx, returning the only way to obtain
// a SignalerContext.
func WithSignaler(ctx context.Context) (SignalerContext, <-chan error) {
	errCh := make(chan error, 1)
	return signalerContext{Context: ctx, signaler: NewSignaler(errCh)}, errCh
}
