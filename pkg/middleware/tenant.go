package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/iota-hierarchy/pkg/composables"
	"github.com/iota-uz/iota-hierarchy/pkg/httpapi"
)

// RequireTenantHeader reads the tenant (organization) id from header and
// rejects requests without a valid one.
func RequireTenantHeader(header string) mux.MiddlewareFunc {
	if header == "" {
		header = "X-Tenant-ID"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				writeTenantError(w, r, header+" header is required")
				return
			}
			tenantID, err := uuid.Parse(raw)
			if err != nil || tenantID == uuid.Nil {
				writeTenantError(w, r, header+" header is not a valid uuid")
				return
			}
			next.ServeHTTP(w, r.WithContext(composables.WithTenantID(r.Context(), tenantID)))
		})
	}
}

func writeTenantError(w http.ResponseWriter, r *http.Request, message string) {
	apiErr := httpapi.NewError(http.StatusBadRequest, "TENANT_REQUIRED", message).
		WithRequestID(composables.UseRequestID(r.Context()))
	if err := apiErr.Write(w); err != nil {
		composables.UseLogger(r.Context()).WithError(err).Warn("failed to write tenant error")
	}
}
