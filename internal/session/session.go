// Package session issues and revokes the opaque session records created on
// login and impersonation.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nijjara.org/internal/ids"
	"nijjara.org/internal/tabular"
)

// Sheet is the backing table name.
const Sheet = "SYS_Sessions"

var headers = []string{
	"Session_Id", "User_Id", "Device", "Ip_Address", "Auth_Token",
	"Created_At", "Last_Seen", "Revoked_At", "Revoked_By", "Expires_Hint",
}

// ErrNotFound indicates an unknown session id or token.
var ErrNotFound = errors.New("session: not found")

// DeviceImpersonation tags sessions created on behalf of another user.
const DeviceImpersonation = "IMPERSONATION"

// Session is one issued credential. The auth token is an opaque string;
// Expires_Hint is advisory metadata only, never enforced here.
type Session struct {
	ID          string `json:"session_id"`
	UserID      string `json:"user_id"`
	Device      string `json:"device,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	AuthToken   string `json:"-"`
	CreatedAt   string `json:"created_at"`
	LastSeen    string `json:"last_seen,omitempty"`
	RevokedAt   string `json:"revoked_at,omitempty"`
	RevokedBy   string `json:"revoked_by,omitempty"`
	ExpiresHint string `json:"expires_hint,omitempty"`
}

// Revoked reports whether the session has been revoked.
func (s Session) Revoked() bool { return s.RevokedAt != "" }

// Manager persists sessions on the tabular backend.
type Manager struct {
	tab tabular.Store
	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager.
func NewManager(tab tabular.Store, opts ...Option) *Manager {
	m := &Manager{tab: tab, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureSchema registers the sessions sheet.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	return m.tab.EnsureSchema(ctx, Sheet, headers)
}

// New is the input for Create.
type New struct {
	UserID      string
	Device      string
	IPAddress   string
	AuthToken   string
	ExpiresHint string
}

// Create appends a session row, generating an opaque token when none given.
func (m *Manager) Create(ctx context.Context, in New) (Session, error) {
	if in.UserID == "" {
		return Session{}, fmt.Errorf("session: user id is required")
	}
	seq, err := m.tab.NextSequence(ctx, "SES", Sheet)
	if err != nil {
		return Session{}, err
	}
	token := in.AuthToken
	if token == "" {
		token = ids.Token()
	}
	now := formatISO(m.now())
	s := Session{
		ID:          ids.Format("SES", seq),
		UserID:      in.UserID,
		Device:      in.Device,
		IPAddress:   in.IPAddress,
		AuthToken:   token,
		CreatedAt:   now,
		LastSeen:    now,
		ExpiresHint: in.ExpiresHint,
	}
	if err := m.tab.AppendRow(ctx, Sheet, record(s)); err != nil {
		return Session{}, err
	}
	return s, nil
}

// ListForUser returns all sessions of one user in creation order.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := m.tab.ListRows(ctx, Sheet)
	if err != nil {
		return nil, err
	}
	var out []Session
	for _, rec := range rows {
		if rec["User_Id"] == userID {
			out = append(out, fromRecord(rec))
		}
	}
	return out, nil
}

// FindByToken resolves an unrevoked session by its auth token.
func (m *Manager) FindByToken(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNotFound
	}
	rows, err := m.tab.ListRows(ctx, Sheet)
	if err != nil {
		return Session{}, err
	}
	for _, rec := range rows {
		if rec["Auth_Token"] == token && rec["Revoked_At"] == "" {
			return fromRecord(rec), nil
		}
	}
	return Session{}, ErrNotFound
}

// Touch stamps the session's last-seen time.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	ok, err := m.tab.UpdateRowByKey(ctx, Sheet, "Session_Id", sessionID,
		tabular.Record{"Last_Seen": formatISO(m.now())})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Revoke marks a single session revoked.
func (m *Manager) Revoke(ctx context.Context, sessionID, actor string) error {
	ok, err := m.tab.UpdateRowByKey(ctx, Sheet, "Session_Id", sessionID,
		tabular.Record{"Revoked_At": formatISO(m.now()), "Revoked_By": actor})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes every live session of the user and returns the
// number revoked.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID, actor string) (int, error) {
	sessions, err := m.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := formatISO(m.now())
	revoked := 0
	for _, s := range sessions {
		if s.Revoked() {
			continue
		}
		ok, err := m.tab.UpdateRowByKey(ctx, Sheet, "Session_Id", s.ID,
			tabular.Record{"Revoked_At": now, "Revoked_By": actor})
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}
	return revoked, nil
}

func record(s Session) tabular.Record {
	return tabular.Record{
		"Session_Id":   s.ID,
		"User_Id":      s.UserID,
		"Device":       s.Device,
		"Ip_Address":   s.IPAddress,
		"Auth_Token":   s.AuthToken,
		"Created_At":   s.CreatedAt,
		"Last_Seen":    s.LastSeen,
		"Revoked_At":   s.RevokedAt,
		"Revoked_By":   s.RevokedBy,
		"Expires_Hint": s.ExpiresHint,
	}
}

func fromRecord(rec tabular.Record) Session {
	return Session{
		ID:          rec["Session_Id"],
		UserID:      rec["User_Id"],
		Device:      rec["Device"],
		IPAddress:   rec["Ip_Address"],
		AuthToken:   rec["Auth_Token"],
		CreatedAt:   rec["Created_At"],
		LastSeen:    rec["Last_Seen"],
		RevokedAt:   rec["Revoked_At"],
		RevokedBy:   rec["Revoked_By"],
		ExpiresHint: rec["Expires_Hint"],
	}
}

func formatISO(t time.Time) string { return t.Format(time.RFC3339) }
