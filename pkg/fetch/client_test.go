package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/site-mirror/pkg/config"
)

func TestNewClient(t *testing.T) {
	cfg := config.HTTPClientConfig{Timeout: 7 * time.Second, MaxIdleConns: 5}

	client, err := NewClient(cfg, false, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, client.Timeout)
	assert.Nil(t, client.Jar)

	withJar, err := NewClient(cfg, true, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, withJar.Jar)
}
