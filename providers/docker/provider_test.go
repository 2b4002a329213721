package docker

import (
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeforge-io/kubeforge/internal/ir"
)

func TestContainerName(t *testing.T) {
	d := &ir.Descriptor{ID: "mlflow", Kind: ir.KindPlatformStack}
	assert.Equal(t, "kubeforge-mlflow", containerName(d))

	d.Properties = map[string]any{"containerName": "mlflow-dev"}
	assert.Equal(t, "mlflow-dev", containerName(d))
}

func TestPortBindings(t *testing.T) {
	exposed, bindings, err := portBindings([]string{"8080:80", "5000:5000"})
	require.NoError(t, err)

	require.Contains(t, exposed, nat.Port("80/tcp"))
	require.Contains(t, bindings, nat.Port("80/tcp"))
	assert.Equal(t, "8080", bindings["80/tcp"][0].HostPort)

	assert.Equal(t, "5000", bindings["5000/tcp"][0].HostPort)
}

func TestPortBindings_Empty(t *testing.T) {
	exposed, bindings, err := portBindings(nil)
	require.NoError(t, err)
	assert.Nil(t, exposed)
	assert.Nil(t, bindings)
}

func TestPortBindings_Invalid(t *testing.T) {
	_, _, err := portBindings([]string{"not-a-port"})
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "DB_PASSWORD", envKey("db/password"))
	assert.Equal(t, "API_TOKEN_V2", envKey("api-token.v2"))
	assert.Equal(t, "PLAIN", envKey("plain"))
}
