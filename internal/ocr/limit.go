package ocr

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles calls to a paid or slow backend.
type Limited struct {
	next    Recognizer
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls with the given burst. A non-positive
// rate disables throttling.
func NewLimited(next Recognizer, perSecond float64, burst int) *Limited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (l *Limited) Recognize(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for ocr rate limit: %w", err)
	}
	return l.next.Recognize(ctx, data, contentType)
}

func (l *Limited) Close() error {
	return l.next.Close()
}
