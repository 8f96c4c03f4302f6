package authenticator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Step identifies which stage of a multi-step authentication is being
// verified. The engine never interprets steps itself; it hands them to the
// injected Authenticator and acts on the verdict.
type Step string

const (
	StepPassword Step = "password"
	StepMFA      Step = "mfa"
)

// Authenticator verifies an end user's authentication step. Implementations
// decide what the params mean for each step; the caller only learns whether
// the step succeeded.
type Authenticator interface {
	Authenticate(ctx context.Context, subject string, step Step, params map[string]string) (bool, error)
}

// HashPassword derives a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "[HashPassword] hashing failed")
	}
	return string(bytes), nil
}

// CheckPasswordHash checks a password against a stored bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordAuthenticator verifies the password step against bcrypt hashes held
// in memory. It satisfies Authenticator for deployments without an external
// identity provider.
type PasswordAuthenticator struct {
	mutex  sync.RWMutex
	hashes map[string]string
}

func NewPasswordAuthenticator() *PasswordAuthenticator {
	return &PasswordAuthenticator{hashes: make(map[string]string)}
}

// Register stores the bcrypt hash for a subject, replacing any previous one.
func (a *PasswordAuthenticator) Register(subject, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return errors.Wrap(err, "[PasswordAuthenticator.Register] hash password")
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.hashes[subject] = hash
	return nil
}

// Authenticate verifies the password step. Unknown subjects and non-password
// steps fail closed without error.
func (a *PasswordAuthenticator) Authenticate(_ context.Context, subject string, step Step, params map[string]string) (bool, error) {
	if step != StepPassword {
		return false, nil
	}
	a.mutex.RLock()
	hash, ok := a.hashes[subject]
	a.mutex.RUnlock()
	if !ok {
		return false, nil
	}
	return CheckPasswordHash(params["password"], hash), nil
}
