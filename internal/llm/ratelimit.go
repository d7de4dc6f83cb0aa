package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitProvider caps the request rate of a single endpoint. Completions
// and embeddings draw from the same budget.
type RateLimitProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitProvider allows requestsPerMinute requests with the given
// burst. A burst below one is raised to one.
func NewRateLimitProvider(inner Provider, requestsPerMinute, burst int) *RateLimitProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Complete waits for capacity and delegates to the inner provider.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, prompt, opts)
}

// Embed waits for capacity and delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// WithRateLimit wraps p unless requestsPerMinute is zero (unlimited).
func WithRateLimit(p Provider, requestsPerMinute, burst int) Provider {
	if p == nil || requestsPerMinute <= 0 {
		return p
	}
	return NewRateLimitProvider(p, requestsPerMinute, burst)
}
