package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadPasscode = errors.New("invalid facilitator passcode")

// HashPasscode produces the bcrypt hash stored in configuration.
func HashPasscode(passcode string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPasscode verifies a facilitator passcode against the configured
// hash. An empty hash disables the check, which is the development default.
func CheckPasscode(hash, passcode string) error {
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)); err != nil {
		return ErrBadPasscode
	}
	return nil
}
