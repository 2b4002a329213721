package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_Resolve(t *testing.T) {
	b := Static{"db/password": "hunter2"}

	v, err := b.Resolve(context.Background(), "db/password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)
}

func TestStatic_NotFound(t *testing.T) {
	b := Static{}

	_, err := b.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnv_Resolve(t *testing.T) {
	t.Setenv("KF_DB_PASSWORD", "s3cret")

	b := &Env{Prefix: "KF_"}
	v, err := b.Resolve(context.Background(), "db/password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)
}

func TestEnv_NameMapping(t *testing.T) {
	t.Setenv("API_TOKEN_V2", "tok")

	b := &Env{}
	v, err := b.Resolve(context.Background(), "api-token.v2")
	require.NoError(t, err)
	assert.Equal(t, "tok", v)
}

func TestEnv_NotFound(t *testing.T) {
	b := &Env{Prefix: "KUBEFORGE_TEST_NONEXISTENT_"}

	_, err := b.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "KUBEFORGE_TEST_NONEXISTENT_NOPE")
}
