package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/nats-client/public/client/config"
)

func TestClientConfig_Defaults(t *testing.T) {
	var conf config.ClientConfig
	require.NoError(t, conf.Parse())

	assert.Equal(t, []string{config.DefaultURL}, conf.URLs)
	assert.Equal(t, config.DefaultConnectTimeout, conf.ConnectTimeout)
	assert.Equal(t, config.DefaultPingInterval, conf.PingInterval)
	assert.Equal(t, config.DefaultMaxPingsOut, conf.MaxPingsOut)
	assert.Equal(t, config.DefaultReconnectWait, conf.ReconnectWait)
	assert.Equal(t, config.DefaultReconnectJitter, conf.ReconnectJitter)
	assert.Equal(t, config.DefaultCommandPoolSize, conf.CommandPoolSize)
	assert.Equal(t, config.DefaultInboxPrefix, conf.InboxPrefix)
	assert.Equal(t, config.DefaultWriteBufferSize, conf.WriteBufferSize)
	assert.Equal(t, config.DefaultDrainTimeout, conf.DrainTimeout)
}

func TestClientConfig_ExplicitValuesKept(t *testing.T) {
	conf := config.ClientConfig{
		URLs:          []string{"nats://a:4222", "nats://b:4222"},
		PingInterval:  10 * time.Second,
		MaxPingsOut:   5,
		ReconnectWait: time.Second,
		NoRandomize:   true,
	}
	require.NoError(t, conf.Parse())

	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, conf.URLs)
	assert.Equal(t, 10*time.Second, conf.PingInterval)
	assert.Equal(t, 5, conf.MaxPingsOut)
	assert.True(t, conf.NoRandomize)
}

func TestClientConfig_FromFile(t *testing.T) {
	doc := `
urls:
  - nats://one:4222
  - nats://two:4222
name: from-file
ping_interval: 30s
max_pings_out: 3
no_randomize: true
tls:
  mode: disable
`
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	conf, err := config.FromFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://one:4222", "nats://two:4222"}, conf.URLs)
	assert.Equal(t, "from-file", conf.Name)
	assert.Equal(t, 30*time.Second, conf.PingInterval)
	assert.Equal(t, 3, conf.MaxPingsOut)
	assert.True(t, conf.NoRandomize)
	assert.Equal(t, config.TLSModeDisable, conf.TLS.Mode)
}

func TestClientConfig_FromFileMissing(t *testing.T) {
	_, err := config.FromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestTLSConfig_DisableProducesNoConfig(t *testing.T) {
	tc := config.TLSConfig{Mode: config.TLSModeDisable}
	require.NoError(t, tc.Parse())
	assert.Nil(t, tc.Config)
	assert.False(t, tc.Enabled())
	assert.False(t, tc.Required())
}

func TestTLSConfig_ModeSemantics(t *testing.T) {
	for _, mode := range []config.TLSMode{config.TLSModeRequire, config.TLSModeImplicit} {
		tc := config.TLSConfig{Mode: mode}
		require.NoError(t, tc.Parse())
		assert.True(t, tc.Enabled(), "mode %s", mode)
		assert.True(t, tc.Required(), "mode %s", mode)
	}

	prefer := config.TLSConfig{Mode: config.TLSModePrefer}
	require.NoError(t, prefer.Parse())
	assert.True(t, prefer.Enabled())
	assert.False(t, prefer.Required())

	auto := config.TLSConfig{}
	require.NoError(t, auto.Parse())
	assert.False(t, auto.Enabled(), "auto without material stays plain")

	autoWithSkip := config.TLSConfig{InsecureSkipVerify: true}
	require.NoError(t, autoWithSkip.Parse())
	assert.True(t, autoWithSkip.Enabled())
}

func TestTLSConfig_UnknownMode(t *testing.T) {
	tc := config.TLSConfig{Mode: "mutual"}
	err := tc.Parse()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrTLSUnknownMode)
}

func TestTLSConfig_CertWithoutKey(t *testing.T) {
	tc := config.TLSConfig{Mode: config.TLSModeRequire, CertPEMPath: "client.pem"}
	err := tc.Parse()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrTLSCertWithoutKey)
}

func TestTLSConfig_UnknownVersion(t *testing.T) {
	tc := config.TLSConfig{Mode: config.TLSModeRequire, MinVersion: "1.4"}
	err := tc.Parse()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrTLSUnknownVersion)
}

func TestTLSConfig_VersionMapping(t *testing.T) {
	tc := config.TLSConfig{Mode: config.TLSModeRequire, MinVersion: "1.2", MaxVersion: "1.3"}
	require.NoError(t, tc.Parse())
	require.NotNil(t, tc.Config)
	assert.EqualValues(t, 0x0303, tc.Config.MinVersion)
	assert.EqualValues(t, 0x0304, tc.Config.MaxVersion)
}
