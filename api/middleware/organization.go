package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/eduflow-sync/api/responses"
	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

// Organization resolves {orgId} and rejects organizations this agent does not
// serve. An empty allow list accepts any organization.
func Organization(allowed []string, logg *logger.Logger) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, org := range allowed {
		set[org] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID := strings.TrimSpace(chi.URLParam(r, "orgId"))
			if orgID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required"))
				return
			}
			if len(set) > 0 {
				if _, ok := set[orgID]; !ok {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "organization is not served by this agent"))
					return
				}
			}
			ctx := WithOrganizationID(r.Context(), orgID)
			if logg != nil {
				ctx = logg.WithOrganizationID(ctx, orgID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
