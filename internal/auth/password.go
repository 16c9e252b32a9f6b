package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

// MinPasswordLength applies to new passwords only.
const MinPasswordLength = 10

// HashPassword returns a bcrypt hash of password at cost (bcrypt.DefaultCost when 0).
func HashPassword(password string, cost int) (string, error) {
	if len(password) < MinPasswordLength {
		return "", xerrors.Mark(xerrors.ErrInvalid, "password must be at least %d characters", MinPasswordLength)
	}
	// bcrypt ignores input past 72 bytes
	if len(password) > 72 {
		return "", xerrors.Mark(xerrors.ErrInvalid, "password must be at most 72 bytes")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", xerrors.Wrap(err, "hash password")
	}
	return string(b), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
