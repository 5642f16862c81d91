package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// FlashMessage represents a one-time notification stored in session.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager stores admin sessions in Redis behind an opaque cookie.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data. It satisfies authz.Session, whose
// snapshot cache is keyed by ID.
type Session struct {
	id        string
	retiredID string
	values    map[string]string
	userID    string
	flashes   []FlashMessage
	stored    bool
	dirty     bool
	destroyed bool
}

type sessionRecord struct {
	Values  map[string]string `json:"values"`
	UserID  string            `json:"user_id"`
	Flashes []FlashMessage    `json:"flashes,omitempty"`
}

// NewSessionManager constructs a SessionManager. The secret is kept for
// signature compatibility with callers; ids are random UUIDs.
func NewSessionManager(client *redis.Client, cookieName string, _ string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Load returns the session named by the request cookie, or a fresh one when
// the cookie is missing or its record expired.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return sm.newSession(), nil
	}
	if err != nil {
		return nil, err
	}

	payload, err := sm.client.Get(ctx, sessionKeyPrefix+cookie.Value).Bytes()
	if errors.Is(err, redis.Nil) {
		// Unknown ids are never adopted; a client cannot pick its own session id.
		return sm.newSession(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("shared: load session: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("shared: decode session: %w", err)
	}
	if rec.Values == nil {
		rec.Values = make(map[string]string)
	}
	return &Session{
		id:      cookie.Value,
		values:  rec.Values,
		userID:  rec.UserID,
		flashes: rec.Flashes,
		stored:  true,
	}, nil
}

// Commit persists the session and writes the cookie.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, _ *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.retiredID != "" {
		if err := sm.client.Del(ctx, sessionKeyPrefix+sess.retiredID).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("shared: drop renewed session: %w", err)
		}
		sess.retiredID = ""
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sessionKeyPrefix+sess.id).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("shared: destroy session: %w", err)
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}

	if sess.dirty || !sess.stored {
		if err := sm.save(ctx, sess); err != nil {
			return err
		}
	}
	http.SetCookie(w, sm.cookie(sess.id, 0))

	// Flashes survive exactly one commit.
	if len(sess.flashes) > 0 {
		sess.flashes = nil
		return sm.save(ctx, sess)
	}
	return nil
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// Renew moves the session to a new id, keeping its values. The old record is
// removed on the next Commit. Call it when the session changes hands, such as
// at login.
func (sm *SessionManager) Renew(sess *Session) {
	if sess == nil {
		return
	}
	if sess.stored && sess.retiredID == "" {
		sess.retiredID = sess.id
	}
	sess.id = newSessionID()
	sess.stored = false
	sess.dirty = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sessionRecord{Values: sess.values, UserID: sess.userID, Flashes: sess.flashes})
	if err != nil {
		return fmt.Errorf("shared: encode session: %w", err)
	}
	if err := sm.client.Set(ctx, sessionKeyPrefix+sess.id, data, sm.ttl).Err(); err != nil {
		return fmt.Errorf("shared: save session: %w", err)
	}
	sess.stored = true
	sess.dirty = false
	return nil
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge == 0 {
		c.Expires = time.Now().Add(sm.ttl)
	}
	return c
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		id:     newSessionID(),
		values: make(map[string]string),
		dirty:  true,
	}
}

func newSessionID() string {
	return uuid.NewString()
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetUser binds the session to a user id; empty signs the session out.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the bound user id, or "".
func (s *Session) User() string {
	return s.userID
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}
