package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

const sessionIDBytes = 32

// SessionHeader carries the session id for clients that do not use bearer tokens.
const SessionHeader = "X-Session-ID"

// SessionIDFromRequest reads the session id from an `Authorization: Bearer`
// header, falling back to SessionHeader. Empty means none was sent.
func SessionIDFromRequest(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}

// SessionIDFromHandshake also accepts a `session` query parameter, which
// browsers need because they cannot set headers on a websocket handshake.
func SessionIDFromHandshake(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("session")); id != "" {
		return id
	}
	return SessionIDFromRequest(r)
}

func newSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *Service) createSession(ctx context.Context, userID string) (*entities.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	session := &entities.Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	if _, err := s.store.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.UserID, db.FormatTime(session.CreatedAt), db.FormatTime(session.ExpiresAt),
	); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// CleanupExpiredSessions deletes every session whose expiry has passed and
// returns how many were removed.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.store.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, db.FormatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	if n > 0 {
		s.logger.Infow("Expired sessions purged", "count", n)
	}
	return n, nil
}
