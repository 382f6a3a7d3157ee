package client

import (
	"context"

	"github.com/ggoodman/wamp-go/wamp"
)

// Future is the pending outcome of an asynchronous call.
type Future struct {
	req  *request
	sess *session
}

// Done is closed once the call resolves.
func (f *Future) Done() <-chan struct{} { return f.req.done }

// Result blocks until the call resolves and returns its outcome.
func (f *Future) Result() (*Result, error) {
	<-f.req.done
	return toResult(f.req.reply, f.req.err)
}

// Await waits for the outcome or ctx. Cancelling ctx resolves the call with
// ErrCanceled unless the reply already arrived.
func (f *Future) Await(ctx context.Context) (*Result, error) {
	return toResult(f.sess.await(ctx, f.req))
}

// Cancel resolves the call locally with ErrCanceled. It reports false if
// the call had already resolved. A late RESULT for a cancelled call is
// discarded.
func (f *Future) Cancel() bool {
	return f.sess.cancelRequest(f.req)
}

func toResult(reply wamp.Message, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	r, ok := reply.(*wamp.Result)
	if !ok {
		return nil, ErrSessionClosed
	}
	return &Result{Arguments: r.Arguments, ArgumentsKw: r.ArgumentsKw, Details: r.Details}, nil
}
