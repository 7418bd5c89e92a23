package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

type (
	Hasher struct {
		Cost int
	}
)

const (
	DefaultPasswordCost = 12
	MinPasswordLength   = 8
)

func (h Hasher) cost() int {
	if h.Cost == 0 {
		return DefaultPasswordCost
	}
	return h.Cost
}

// Hash returns a salted bcrypt hash of plain
func (h Hasher) Hash(plain string) (string, error) {
	buf, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost())
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// Verify reports whether plain matches hash. A mismatch is not an error,
// errors are reserved for malformed hashes and library failures.
func (h Hasher) Verify(plain, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}
