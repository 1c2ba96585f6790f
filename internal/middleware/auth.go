package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	inErrors "github.com/Alturino/cartsync/internal/errors"
	inHttp "github.com/Alturino/cartsync/internal/http"
	"github.com/Alturino/cartsync/internal/log"
)

type bearerToken struct{}

// BearerToken rejects requests without an "Authorization: Bearer" header
// and exposes the token through TokenFromContext. The token itself is
// verified by whoever consumes it.
func BearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context()).With().Str(log.KeyTag, "middleware BearerToken").Logger()
		c := logger.WithContext(r.Context())

		authorization := r.Header.Get(inHttp.KEY_HEADER_AUTHORIZATION)
		if authorization == "" {
			logger.Error().Err(inErrors.ErrEmptyAuth).Msg(inErrors.ErrEmptyAuth.Error())
			inHttp.WriteFailedResponse(c, w, http.StatusUnauthorized, inErrors.ErrEmptyAuth)
			return
		}

		prefix := inHttp.VALUE_BEARER_PREFIX
		if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
			logger.Error().Err(inErrors.ErrTokenInvalid).Msg(inErrors.ErrTokenInvalid.Error())
			inHttp.WriteFailedResponse(c, w, http.StatusUnauthorized, inErrors.ErrTokenInvalid)
			return
		}

		c = context.WithValue(c, bearerToken{}, strings.TrimSpace(authorization[len(prefix):]))
		next.ServeHTTP(w, r.WithContext(c))
	})
}

func TokenFromContext(c context.Context) string {
	token, _ := c.Value(bearerToken{}).(string)
	return token
}
