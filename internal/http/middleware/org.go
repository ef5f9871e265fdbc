package middleware

import (
	"net/http"

	"github.com/clinicops/clinic-platform/internal/tenancy"
)

// RequireOrg pulls the clinic org id from the X-Org-Id header and puts
// it in the request context. Requests without one are rejected before
// reaching any queue handler.
func RequireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get("X-Org-Id")
		if orgID == "" {
			http.Error(w, "X-Org-Id header required", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithOrgID(r.Context(), orgID)))
	})
}
