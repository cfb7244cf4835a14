package httpapi

import (
	"context"
)

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// renderContext joins the server base context with the request context so
// shutdown reaches in-flight renders too.
func (s *Server) renderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return joinContexts(s.baseCtx, ctx)
}
