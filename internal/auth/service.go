// README: Access-key authentication; every attempt lands in the access log.
package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"routescc/internal/logging"
)

// KeySource yields the currently valid access keys.
type KeySource interface {
	Keys(ctx context.Context) ([]string, error)
}

// AttemptLog records authentication attempts, successful or not.
type AttemptLog interface {
	Record(ctx context.Context, message string) error
}

type Service struct {
	keys KeySource
	alog AttemptLog
	log  logging.Logger
}

func NewService(keys KeySource, alog AttemptLog, log logging.Logger) *Service {
	return &Service{keys: keys, alog: alog, log: log}
}

// Authenticate reports whether the key is valid. The attempt is logged either
// way; a logging failure does not block a valid key.
func (s *Service) Authenticate(ctx context.Context, key string) (bool, error) {
	keys, err := s.keys.Keys(ctx)
	if err != nil {
		return false, fmt.Errorf("load access keys: %w", err)
	}
	ok := false
	for _, k := range keys {
		if k == key {
			ok = true
			break
		}
	}

	message := fmt.Sprintf("Failed attempt to log in with key %q.", key)
	if ok {
		message = fmt.Sprintf("User logged in with key %q.", key)
	}
	if err := s.alog.Record(ctx, message); err != nil {
		s.log.Warn("access log append failed", "error", err)
	}
	return ok, nil
}

const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateKey mints a random access key of the given length.
func GenerateKey(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = keyAlphabet[n.Int64()]
	}
	return string(out), nil
}
