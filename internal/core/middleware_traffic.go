package core

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	lambdacore "github.com/awslabs/aws-lambda-go-api-proxy/core"

	"dirhub/internal/types"
)

// RateLimit caps requests per caller using the configured billing limit.
// Callers are keyed by company when authenticated and by client IP
// otherwise.
//
// It passes through when no RateLimitStore is configured or the limit is
// zero, and fails open on store errors so a limiter outage never blocks
// checkout.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, window := s.billingRateLimit()
		if s.RateLimitStore == nil || limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := rateLimitKey(r)
		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, window)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				"key", key,
				"method", r.Method,
				"path", r.URL.Path,
			)
			retryAfter := max(int(time.Until(result.ResetAt).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "Rate limit exceeded. Please retry after the reset time.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) billingRateLimit() (int, time.Duration) {
	if s.Config == nil {
		return 0, 0
	}
	window := s.Config.Security.BillingRateWindow
	if window <= 0 {
		window = time.Minute
	}
	return s.Config.Security.BillingRateLimit, window
}

func rateLimitKey(r *http.Request) string {
	if actor, ok := types.GetActor(r.Context()); ok && actor.HasCompany() {
		return "company:" + actor.CompanyID
	}
	return "ip:" + extractClientIP(r)
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// extractClientIP prefers the source address API Gateway recorded for the
// connection, then the last X-Forwarded-For hop (appended by the load
// balancer in front of the server), then RemoteAddr without its port.
// Earlier X-Forwarded-For entries are caller supplied and never used.
func extractClientIP(r *http.Request) string {
	if gw, ok := lambdacore.GetAPIGatewayV2ContextFromContext(r.Context()); ok && gw.HTTP.SourceIP != "" {
		return gw.HTTP.SourceIP
	}

	if values := r.Header.Values("X-Forwarded-For"); len(values) > 0 {
		hops := strings.Split(values[len(values)-1], ",")
		if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
