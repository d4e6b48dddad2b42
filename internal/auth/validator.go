package auth

import (
	"context"
	"errors"

	"github.com/relaygate/gateway/internal/session"
)

var errRevokedSession = errors.New("session has been revoked")

// Validator is the external token-validator session source of spec §4.9
// option (a): a bearer token in, a Session or nil out. auth.Validate in the
// gateway config is exactly this shape.
type Validator func(ctx context.Context, token string) (*session.Session, error)

// JWTValidator adapts a *JWTManager (the teacher's bearer-token issuer,
// generalized here to carry a role list instead of a single role) into the
// Validator shape the gateway core consumes.
func JWTValidator(mgr *JWTManager) Validator {
	return func(ctx context.Context, token string) (*session.Session, error) {
		claims, err := mgr.ValidateToken(token)
		if err != nil {
			return nil, err
		}
		valid, err := mgr.ValidateSession(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, errRevokedSession
		}
		roles := append([]string{}, claims.Groups...)
		if claims.Role != "" {
			roles = append([]string{claims.Role}, roles...)
		}
		sess := &session.Session{
			UserID: claims.UserID,
			Roles:  roles,
			Metadata: map[string]interface{}{
				"username":  claims.Username,
				"email":     claims.Email,
				"sessionId": claims.ID,
			},
		}
		if claims.ExpiresAt != nil {
			t := claims.ExpiresAt.Time
			sess.ExpiresAt = &t
		}
		return sess, nil
	}
}
