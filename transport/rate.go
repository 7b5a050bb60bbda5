package transport

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/c360/semdds/errors"
)

// RateLimited paces sends of the wrapped transport to a message rate.
type RateLimited struct {
	Transport
	limiter *rate.Limiter
}

// NewRateLimited wraps t so it sends at most perSecond messages per second
// with the given burst. A burst below one is one.
func NewRateLimited(t Transport, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Transport: t, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Send waits for the limiter, then sends.
func (r *RateLimited) Send(ctx context.Context, dst Destination, data []byte) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return errors.Wrap(errors.ErrTimeout, "transport", "Send", "rate limit wait: "+err.Error())
	}
	return r.Transport.Send(ctx, dst, data)
}
