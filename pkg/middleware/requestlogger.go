package middleware

import (
	"log/slog"
	"net/http"

	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/logger"
)

// CustomerPhoneHeader identifies the ordering customer when the caller knows it.
const CustomerPhoneHeader = "X-Customer-Phone"

// RequestLogger stores a logger enriched with correlation, customer and
// trace fields in the request context. Mount it after RequestLogging and
// Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if phone := r.Header.Get(CustomerPhoneHeader); phone != "" {
				ctx = logger.WithCustomer(ctx, phone)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
