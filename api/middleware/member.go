package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/subboxlabs/subbox-backend/api/responses"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
)

const memberIDHeader = "X-Member-Id"

// MemberContext resolves the member identity the edge proxy injects
// after authentication and makes it available to handlers and logs.
func MemberContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(memberIDHeader)
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "member context missing"))
				return
			}

			memberID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid member id"))
				return
			}

			ctx := WithMemberID(r.Context(), memberID)
			if logg != nil {
				ctx = logg.WithMemberID(ctx, memberID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
