package users

import (
	"context"
	"errors"
	"fmt"

	"nijjara.org/internal/audit"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/obs"
	"nijjara.org/internal/session"
)

// Credentials is a login attempt.
type Credentials struct {
	Username  string
	Password  string
	Device    string
	IPAddress string
}

// LoginResult is a successful login. Overview is best-effort and nil when
// the aggregate could not be built.
type LoginResult struct {
	User               identity.User      `json:"user"`
	Session            session.Session    `json:"session"`
	Token              string             `json:"token"`
	MustChangePassword bool               `json:"must_change_password"`
	Overview           *identity.Overview `json:"overview,omitempty"`
}

// Login authenticates by username (or email), opens a session and stamps
// the last-login time. Every failure mode returns the same generic
// ErrInvalidCredentials after writing a LOGIN_FAILED audit row.
func (s *Service) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	u, err := s.store.FindByUsername(ctx, creds.Username)
	if errors.Is(err, identity.ErrNotFound) {
		u, err = s.store.FindByEmail(ctx, creds.Username)
	}
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return LoginResult{}, s.loginFailed(ctx, "", creds.Username, "unknown user")
		}
		return LoginResult{}, err
	}
	if !u.Active {
		return LoginResult{}, s.loginFailed(ctx, u.ID, creds.Username, "inactive")
	}
	if !identity.VerifyPassword(creds.Password, u.PasswordHash) {
		return LoginResult{}, s.loginFailed(ctx, u.ID, creds.Username, "bad password")
	}

	sess, err := s.sessions.Create(ctx, session.New{
		UserID:    u.ID,
		Device:    creds.Device,
		IPAddress: creds.IPAddress,
	})
	if err != nil {
		return LoginResult{}, err
	}
	u.LastLogin = sess.CreatedAt
	if u, err = s.store.SaveUser(ctx, u, u.ID); err != nil {
		return LoginResult{}, err
	}
	if err := s.recorder.Record(ctx, audit.Event{
		ActorID:  u.ID,
		Sheet:    session.Sheet,
		Action:   "LOGIN",
		TargetID: sess.ID,
		Details:  map[string]any{"device": creds.Device, "ip": creds.IPAddress},
		Entity:   "Session",
		Summary:  fmt.Sprintf("%s signed in", u.Username),
	}); err != nil {
		return LoginResult{}, err
	}

	mustChange, err := s.store.PropertyValue(ctx, u.ID, identity.PropMustChange)
	if err != nil {
		return LoginResult{}, err
	}

	res := LoginResult{
		User:               u,
		Session:            sess,
		Token:              sess.AuthToken,
		MustChangePassword: mustChange == "TRUE",
	}
	// The dashboard summary is a convenience; a broken aggregate never
	// fails the login itself.
	if ov, err := s.store.BuildOverview(ctx); err == nil {
		res.Overview = &ov
	} else {
		obs.LogEvent(map[string]any{
			"level": "warn",
			"msg":   "login overview unavailable",
			"error": err.Error(),
		})
	}
	return res, nil
}

func (s *Service) loginFailed(ctx context.Context, userID, username, reason string) error {
	if err := s.recorder.Record(ctx, audit.Event{
		ActorID:  userID,
		Sheet:    session.Sheet,
		Action:   "LOGIN_FAILED",
		TargetID: userID,
		Details:  map[string]any{"username": username, "reason": reason},
	}); err != nil {
		obs.LogEvent(map[string]any{
			"level": "error",
			"msg":   "login failure audit write failed",
			"error": err.Error(),
		})
	}
	return ErrInvalidCredentials
}

// Logout revokes the session behind the token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.sessions.FindByToken(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, sess.ID, sess.UserID); err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Event{
		ActorID:  sess.UserID,
		Sheet:    session.Sheet,
		Action:   "LOGOUT",
		TargetID: sess.ID,
	})
}

// ResolveToken maps a bearer token to its active user, touching the
// session's last-seen time. Revoked tokens and inactive users resolve to
// ErrInvalidCredentials.
func (s *Service) ResolveToken(ctx context.Context, token string) (identity.User, session.Session, error) {
	sess, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return identity.User{}, session.Session{}, ErrInvalidCredentials
		}
		return identity.User{}, session.Session{}, err
	}
	u, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.User{}, session.Session{}, ErrInvalidCredentials
		}
		return identity.User{}, session.Session{}, err
	}
	if !u.Active {
		return identity.User{}, session.Session{}, ErrInvalidCredentials
	}
	if err := s.sessions.Touch(ctx, sess.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return identity.User{}, session.Session{}, err
	}
	return u, sess, nil
}
