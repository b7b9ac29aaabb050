// Package auth hashes credentials and authenticates requests.
//
// WHY BCRYPT?
// bcrypt is deliberately slow and salts every hash, so two accounts with the
// same password still get different digests and offline guessing is
// expensive. The salt and the cost live inside the digest itself:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// The users table therefore needs a single password_hash column and nothing
// else.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production.
// Aim for roughly 250ms per hash on the deployment hardware.
const defaultCost = 12

// maxPasswordBytes is bcrypt's input limit. Longer input would be silently
// truncated, so it is rejected instead.
const maxPasswordBytes = 72

// ErrPasswordMismatch is returned by Verify when the plaintext is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService hashes and verifies passwords with bcrypt.
//
// The cost is a field so tests can use bcrypt.MinCost and stay fast.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummy     string
}

// NewPasswordService creates a PasswordService with the given cost.
// A cost of 0 selects the production default.
func NewPasswordService(cost int) *PasswordService {
	if cost == 0 {
		cost = defaultCost
	}
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest creates a PasswordService with bcrypt's minimum
// cost. Never use it outside tests.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{cost: bcrypt.MinCost}
}

// Hash returns the bcrypt digest of plaintext.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks plaintext against a stored digest. It returns nil on a match
// and ErrPasswordMismatch (possibly wrapped) otherwise.
//
// bcrypt.CompareHashAndPassword compares in constant time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// DummyHash returns a valid digest, computed once at this service's cost,
// that no real password matches.
//
// TIMING:
// When a login names an unknown email there is no stored hash to compare.
// Returning early would make "no such account" measurably faster than "wrong
// password". Verifying against DummyHash makes both paths pay for one bcrypt
// comparison.
func (p *PasswordService) DummyHash() string {
	p.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("laporketua-no-such-account"), p.cost)
		if err == nil {
			p.dummy = string(h)
		}
	})
	return p.dummy
}
