package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bobmcallan/pricecache/internal/common"
)

// validateJWT parses and validates an HS256 JWT signed with secret.
// Tokens without an exp claim are rejected.
func validateJWT(tokenString string, secret []byte) (*jwt.Token, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, nil, err
	}
	return token, claims, nil
}

// checkAdmin reports whether the request carries the admin credential:
// the shared secret in X-Admin-Secret, or a bearer JWT signed with it.
func checkAdmin(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	if given := r.Header.Get("X-Admin-Secret"); given != "" {
		return subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	_, _, err := validateJWT(strings.TrimPrefix(authHeader, "Bearer "), []byte(secret))
	return err == nil
}

// requireAdmin gates administrative routes. Writes 401 and returns false when
// the credential is missing or wrong.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !checkAdmin(r, s.app.Config.Admin.Secret) {
		s.logger.Warn().
			Str("path", r.URL.Path).
			Str("correlation_id", common.ResolveCorrelationID(r.Context())).
			Msg("Admin request rejected")
		w.Header().Set("WWW-Authenticate", "Bearer")
		WriteError(w, http.StatusUnauthorized, "admin credential required")
		return false
	}
	if rc := common.RequestContextFromContext(r.Context()); rc != nil {
		rc.Admin = true
	}
	return true
}
