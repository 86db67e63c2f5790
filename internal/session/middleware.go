package session

import (
	"net/http"

	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/permissions"
	"github.com/medflow/pharmacy-ledger/pkg/tenant"
)

// Middleware checks the session and puts its pharmacy scope and actor in the
// request context.
func Middleware(checker *Checker, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, err := checker.CheckSession(r.Header.Get("Authorization"))
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("session rejected")
				httputil.ErrorLocalized(w, r, err)
				return
			}

			ctx := WithState(r.Context(), state)
			ctx = tenant.WithPharmacy(ctx, state.PharmacyID, state.UserID)
			ctx = actor.WithActor(ctx, &actor.Actor{
				ID:         state.UserID,
				PharmacyID: state.PharmacyID,
				RoleName:   state.Role,
			})
			httputil.RecordScope(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects sessions lacking perm
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, ok := FromContext(r.Context())
			if !ok {
				httputil.ErrorLocalized(w, r, errors.Unauthorized("no session"))
				return
			}
			if !permissions.HasPermission(state.Permissions, perm) {
				httputil.ErrorLocalized(w, r, errors.Forbidden("missing permission "+perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
