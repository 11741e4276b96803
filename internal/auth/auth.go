// Package auth checks login credentials against a static user directory.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/rickgao/orderfeed/internal/config"
	"github.com/rickgao/orderfeed/internal/model"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is one directory entry.
type User struct {
	Email        string
	PasswordHash []byte
	Role         model.Role
}

// Directory holds the users allowed to log in, keyed by lower-cased email.
type Directory struct {
	users map[string]User

	// Compared against when the email is unknown so misses cost the same as hits.
	dummyHash []byte
}

// NewDirectory builds a directory from configured users.
func NewDirectory(users []config.UserConfig) (*Directory, error) {
	d := &Directory{users: make(map[string]User, len(users))}

	for i, u := range users {
		email := normalizeEmail(u.Email)
		if email == "" {
			return nil, fmt.Errorf("user %d: email is required", i)
		}
		role := model.Role(u.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("user %s: invalid role %q", email, u.Role)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %s: password hash: %w", email, err)
		}
		if _, dup := d.users[email]; dup {
			return nil, fmt.Errorf("user %s: duplicate email", email)
		}
		d.users[email] = User{Email: email, PasswordHash: []byte(u.PasswordHash), Role: role}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("orderfeed-dummy"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	d.dummyHash = hash

	return d, nil
}

// Authenticate returns the user's role and canonical email.
func (d *Directory) Authenticate(email, password string) (model.Role, string, error) {
	user, ok := d.users[normalizeEmail(email)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(d.dummyHash, []byte(password))
		return "", "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}
	return user.Role, user.Email, nil
}

// Len returns the number of users.
func (d *Directory) Len() int {
	return len(d.users)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
