// Package domain contains entities without transport, just meta-data and transition rules.
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
)

// anonymousIDs are handshake values that browsers send when the client has no identity yet.
var anonymousIDs = map[string]struct{}{
	"":          {},
	"undefined": {},
	"null":      {},
}

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// ParseUserID validates a claimed identifier. Sentinel values map to ErrUserIDEmpty,
// which callers treat as an anonymous connection rather than a failure.
func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if _, ok := anonymousIDs[raw]; ok {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// NewUser builds a user from handshake fields; an overlong username is truncated, not rejected.
func NewUser(rawID, username string) (*User, error) {
	id, err := ParseUserID(rawID)
	if err != nil {
		return nil, err
	}
	u := &User{ID: id}
	if err := u.SetUsername(username); err != nil {
		u.Username = truncate(username, MaxUsernameLen)
	}
	return u, nil
}

func (u *User) SetUsername(username string) error {
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (id UserID) Anonymous() bool { return id == "" }
