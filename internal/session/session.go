// Package session owns the portal's view of who is signed in: the Session
// value, the store that holds it, the startup bootstrapper and the listener
// that keeps it in step with the identity backend.
package session

import (
	"errors"
	"strings"

	"github.com/learnhub-dev/learnhub/internal/identity"
)

// Roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ErrIncompleteSession is returned when a session lacks a subject or email
var ErrIncompleteSession = errors.New("session requires subject id and email")

// Session is the authenticated principal as the portal sees it
type Session struct {
	SubjectID   string `json:"subjectId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle"`
	Role        string `json:"role"`
}

// IsAdmin reports whether the session carries the admin role
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Derive builds a Session from a remote user record. It is the only place
// profile fields are selected.
func Derive(user identity.User) (*Session, error) {
	s := &Session{
		SubjectID:   user.ID,
		Email:       user.Email,
		DisplayName: metadataString(user.UserMetadata, "full_name", "name"),
		Handle:      metadataString(user.UserMetadata, "username", "user_name", "preferred_username"),
		Role:        metadataString(user.AppMetadata, "role"),
	}
	if err := s.complete(); err != nil {
		return nil, err
	}
	return s, nil
}

// complete validates the required fields and fills derived defaults in place
func (s *Session) complete() error {
	s.SubjectID = strings.TrimSpace(s.SubjectID)
	s.Email = strings.TrimSpace(s.Email)
	if s.SubjectID == "" || s.Email == "" {
		return ErrIncompleteSession
	}

	local := emailLocalPart(s.Email)
	if s.DisplayName == "" {
		s.DisplayName = local
	}
	if s.Handle == "" {
		s.Handle = local
	}
	if s.Role != RoleAdmin && s.Role != RoleUser {
		s.Role = roleForEmail(s.Email)
	}
	return nil
}

// roleForEmail is a placeholder rule until the backend asserts roles for
// every account: any email containing "admin" is an administrator.
func roleForEmail(email string) string {
	if strings.Contains(email, "admin") {
		return RoleAdmin
	}
	return RoleUser
}

func emailLocalPart(email string) string {
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

func metadataString(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := meta[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
