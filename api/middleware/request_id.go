package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/eduflow-sync/pkg/instance"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	agentHeader     = "X-EduFlow-Agent"
	maxRequestIDLen = 128
)

// RequestID reuses the caller's X-Request-Id when it is usable and names the
// answering agent in X-EduFlow-Agent so UI logs can be matched to this host.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	agentID := instance.ID()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if reqID == "" || len(reqID) > maxRequestIDLen {
				reqID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)
			w.Header().Set(agentHeader, agentID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"request_id": reqID,
					"agent_id":   agentID,
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
