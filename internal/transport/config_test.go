package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/urbilink/internal/testutil/testlog"
)

func TestNormalizeAddressAddsDefaultPort(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"localhost":      "localhost:54000",
		"10.0.0.1:9000":  "10.0.0.1:9000",
		" robot.local ":  "robot.local:54000",
		"::1":            "[::1]:54000",
		"[::1]":          "[::1]:54000",
		"[fe80::1]:4000": "[fe80::1]:4000",
	}
	for in, want := range cases {
		got, err := NormalizeAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeAddress("  ")
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.WriteTimeout = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidTimeout)

	cfg = DefaultConfig()
	cfg.TLS.Mutual = true
	assert.ErrorIs(t, cfg.Validate(), ErrTLSRequired)

	cfg = DefaultConfig()
	cfg.TLS.Enabled = true
	assert.ErrorIs(t, cfg.Validate(), ErrTLSCAFileRequired)
	cfg.TLS.InsecureSkipVerify = true
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.TLS = TLSConfig{Enabled: true, Mutual: true, CAFile: "ca.pem"}
	assert.ErrorIs(t, cfg.Validate(), ErrTLSCertFileRequired)
	cfg.TLS.CertFile = "client.pem"
	assert.ErrorIs(t, cfg.Validate(), ErrTLSKeyFileRequired)
	cfg.TLS.KeyFile = "client-key.pem"
	assert.NoError(t, cfg.Validate())
}
