// Package secrets defines the credential broker: an external collaborator
// that resolves named secrets on demand. Resolved values are handed to
// provisioning actions as opaque strings and are never written to the
// state store or to logs.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound indicates the named secret does not exist in the backing store.
var ErrNotFound = errors.New("secret not found")

// ErrAccessDenied indicates the caller may not read the named secret.
var ErrAccessDenied = errors.New("secret access denied")

// Broker resolves a secret name to its value.
type Broker interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Static is an in-memory broker for tests and dry runs.
type Static map[string]string

// Resolve implements Broker.
func (s Static) Resolve(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// Env resolves secrets from environment variables. A name like "db/password"
// maps to <prefix>DB_PASSWORD.
type Env struct {
	Prefix string
}

// Resolve implements Broker.
func (e *Env) Resolve(_ context.Context, name string) (string, error) {
	key := e.Prefix + envKey(name)
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s (env %s)", ErrNotFound, name, key)
	}
	return v, nil
}

func envKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(key)
	return key
}
