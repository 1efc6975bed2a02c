package client

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"
)

// Call is an in-flight request. It resolves exactly once.
type Call struct {
	once sync.Once
	done chan struct{}
	data json.RawMessage
	err  error

	// onFail runs before Done is closed when the call resolves with an error.
	onFail func()
}

func newCall() *Call {
	return &Call{done: make(chan struct{})}
}

func (c *Call) resolve(data json.RawMessage, err error) {
	c.once.Do(func() {
		c.data, c.err = data, err
		if err != nil && c.onFail != nil {
			c.onFail()
		}
		close(c.done)
	})
}

// Done is closed once the call has a result.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the call resolves or ctx is done. Abandoning the wait does not cancel the
// call on the server.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.data, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
