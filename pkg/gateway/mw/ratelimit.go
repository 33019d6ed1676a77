package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// RateLimit admits requests through limiter and holds the permit for the
// life of the handler, which for /ws is the whole session.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AcquireSession(ratelimit.ClientKey(r), time.Now())
		if !dec.Allowed {
			m.RecordRateLimitHit(dec.Limit)
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			apierror.Write(w, reqID, http.StatusTooManyRequests, &apierror.Error{
				Type:    apierror.ErrRateLimit,
				Message: "too many chat sessions from this client",
				Code:    dec.Limit,
			})
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
