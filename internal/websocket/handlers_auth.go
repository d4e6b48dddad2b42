package websocket

import (
	"context"

	apperrors "github.com/relaygate/gateway/internal/errors"
	"github.com/relaygate/gateway/internal/logger"
	"github.com/relaygate/gateway/internal/session"
)

// dispatchAuth handles auth.login and auth.logout (spec §4.9). Exactly one
// session source is consulted per call, in this order: an external token
// validator (payload.token) when configured, a built-in API token
// (payload.apiToken) when the built-in store is configured, otherwise the
// built-in username/password(/totp) store. Configuring both is legal; the
// external validator takes priority since it is the more commonly-fronted
// production path.
func (r *Router) dispatchAuth(ctx context.Context, conn *Connection, op string, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	switch op {
	case "auth.login":
		return r.authLogin(ctx, conn, payload)
	case "auth.logout":
		return r.authLogout(ctx, conn)
	default:
		return nil, apperrors.UnknownOperation(op)
	}
}

func (r *Router) authLogin(ctx context.Context, conn *Connection, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	if token := optionalString(payload, "token"); token != "" && r.cfg.Auth.Validate != nil {
		sess, err := r.cfg.Auth.Validate(ctx, token)
		if err != nil || sess == nil {
			return nil, apperrors.Unauthorized("invalid token")
		}
		conn.SetSession(sess)
		return loginResult(sess), nil
	}

	if apiToken := optionalString(payload, "apiToken"); apiToken != "" && r.cfg.Auth.BuiltIn != nil {
		sess, err := r.cfg.Auth.BuiltIn.LoginWithAPIToken(apiToken, r.cfg.Auth.SessionTTL)
		if err != nil {
			return nil, apperrors.Unauthorized("invalid credentials")
		}
		conn.SetSession(sess)
		return loginResult(sess), nil
	}

	if r.cfg.Auth.BuiltIn != nil {
		username, perr := requireString(payload, "username")
		if perr != nil {
			return nil, perr
		}
		password, perr := requireString(payload, "password")
		if perr != nil {
			return nil, perr
		}
		totpCode := optionalString(payload, "totp")
		sess, err := r.cfg.Auth.BuiltIn.Login(username, password, totpCode, r.cfg.Auth.SessionTTL)
		if err != nil {
			return nil, apperrors.Unauthorized("invalid credentials")
		}
		conn.SetSession(sess)
		return loginResult(sess), nil
	}

	return nil, apperrors.Unauthorized("no session source is configured")
}

func (r *Router) authLogout(ctx context.Context, conn *Connection) (interface{}, *apperrors.ProtocolError) {
	if sess := conn.Session(); sess != nil && r.cfg.Auth.Sessions != nil {
		if sessionID, ok := sess.Metadata["sessionId"].(string); ok && sessionID != "" {
			if err := r.cfg.Auth.Sessions.InvalidateSession(ctx, sessionID); err != nil {
				logger.Security().Warn().Err(err).Str("sessionId", sessionID).Msg("failed to invalidate session on logout")
			}
		}
	}
	conn.ClearSession()
	return map[string]interface{}{"loggedOut": true}, nil
}

func loginResult(sess *session.Session) map[string]interface{} {
	out := map[string]interface{}{
		"userId": sess.UserID,
		"roles":  sess.Roles,
	}
	if sess.ExpiresAt != nil {
		out["expiresAt"] = sess.ExpiresAt.UnixMilli()
	}
	return out
}
