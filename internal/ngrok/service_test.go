package ngrok

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffstore/internal/config"
	"riffstore/internal/logging"
)

func TestDisabledServiceIsNil(t *testing.T) {
	svc, err := NewService(&config.NgrokConfig{Enabled: false}, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, svc)

	// a nil service is a no-op
	assert.NoError(t, svc.StartTunnel(context.Background(), "127.0.0.1:8080"))
	assert.Empty(t, svc.PublicURL())
	assert.NoError(t, svc.Stop())
}

func TestEnabledServiceNeedsToken(t *testing.T) {
	t.Setenv(config.EnvNgrokToken, "")

	_, err := NewService(&config.NgrokConfig{Enabled: true}, logging.Discard())
	assert.Error(t, err)
}

func TestTrafficPolicyRequiresOAuth(t *testing.T) {
	policy := trafficPolicy("github")
	assert.Contains(t, policy, "on_http_request:")
	assert.Contains(t, policy, "type: oauth")
	assert.Contains(t, policy, "provider: github")
}
