package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hpungsan/skim/internal/errors"
)

type envelope struct {
	req   *Request
	reply chan *Response
}

// Bus is an in-process channel. One Serve loop dispatches each request to the
// handler on its own goroutine, so responses may arrive in any order.
type Bus struct {
	requests chan envelope

	mu      sync.Mutex
	stopped chan struct{} // nil while nothing is serving

	ready     chan struct{}
	readyOnce sync.Once
}

// NewBus returns a Bus with nothing serving.
func NewBus() *Bus {
	return &Bus{requests: make(chan envelope), ready: make(chan struct{})}
}

// Ready is closed once Serve has started accepting requests for the first time.
func (b *Bus) Ready() <-chan struct{} {
	return b.ready
}

// Serve handles requests with h until ctx is done. In-flight requests are
// answered before it returns. Only one Serve may run at a time.
func (b *Bus) Serve(ctx context.Context, h Handler) error {
	b.mu.Lock()
	if b.stopped != nil {
		b.mu.Unlock()
		return errors.NewInvalidRequest("bus is already being served")
	}
	stopped := make(chan struct{})
	b.stopped = stopped
	b.mu.Unlock()
	b.readyOnce.Do(func() { close(b.ready) })

	var wg sync.WaitGroup
	defer func() {
		b.mu.Lock()
		b.stopped = nil
		b.mu.Unlock()
		close(stopped)
		wg.Wait()
	}()

	// Handlers outlive the caller's wait; only shutdown stops new work.
	handleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-b.requests:
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := h.Handle(handleCtx, env.req)
				if resp == nil {
					resp = Fail(errors.NewInternal(nil))
				}
				resp.RequestID = env.req.RequestID
				env.reply <- resp
			}()
		}
	}
}

// Send implements Sender. It fails with CHANNEL_UNREACHABLE when nothing is
// serving or serving stops before the request is accepted.
func (b *Bus) Send(ctx context.Context, req *Request) (*Response, error) {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped == nil {
		return nil, errors.NewChannelUnreachable(nil)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	env := envelope{req: req, reply: make(chan *Response, 1)}

	select {
	case b.requests <- env:
	case <-stopped:
		return nil, errors.NewChannelUnreachable(nil)
	case <-ctx.Done():
		return nil, ctxError(ctx)
	}

	select {
	case resp := <-env.reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctxError(ctx)
	}
}

func ctxError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeout("request", ctx.Err())
	}
	return errors.NewChannelUnreachable(ctx.Err())
}
