package server

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcrodman/hl7mllp/internal/certs"
	"github.com/dcrodman/hl7mllp/internal/mllp"
)

func TestNormalizeListenerOptions_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]interface{}
		wantErr string
	}{
		{"missing port", map[string]interface{}{}, "port is not defined"},
		{"nil port", map[string]interface{}{"port": nil}, "port is not defined"},
		{"text port", map[string]interface{}{"port": "abc"}, "port is not valid number"},
		{"fractional port", map[string]interface{}{"port": 80.5}, "port is not valid number"},
		{"boolean port", map[string]interface{}{"port": true}, "port is not valid number"},
		{"port too large", map[string]interface{}{"port": 70000}, "port must be a number (0, 65535)"},
		{"negative port", map[string]interface{}{"port": -1}, "port must be a number (0, 65535)"},
		{"name with space", map[string]interface{}{"port": 6000, "name": "adt in"}, "name must not contain certain characters: " + nameBlacklist},
		{"name with dash", map[string]interface{}{"port": 6000, "name": "adt-in"}, "name must not contain certain characters: " + nameBlacklist},
		{"bad override", map[string]interface{}{"port": 6000, "override_msh": "maybe"}, "overridemsh is not valid boolean."},
		{"bad window", map[string]interface{}{"port": 6000, "duplicate_window": "soon"}, "duplicateWindow is not valid duration"},
		{"negative frame size", map[string]interface{}{"port": 6000, "max_frame_size": -5}, "maxFrameSize must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeListenerOptions(tt.raw)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestNormalizeListenerOptions_UnknownEncoding(t *testing.T) {
	_, err := NormalizeListenerOptions(map[string]interface{}{"port": 6000, "encoding": "klingon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown text encoding "klingon"`)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "encoding", cfgErr.Field)
}

func TestNormalizeListenerOptions_Defaults(t *testing.T) {
	cfg, err := NormalizeListenerOptions(map[string]interface{}{"port": 6000})
	require.NoError(t, err)

	assert.Equal(t, ListenerConfig{
		Port:         6000,
		Name:         "6000",
		Encoding:     "utf-8",
		MaxFrameSize: mllp.DefaultMaxFrameSize,
	}, cfg)
}

func TestNormalizeListenerOptions_PortZeroStaysUnnamed(t *testing.T) {
	cfg, err := NormalizeListenerOptions(map[string]interface{}{"port": 0})
	require.NoError(t, err)
	assert.Empty(t, cfg.Name)
}

func TestNormalizeListenerOptions_AllOptions(t *testing.T) {
	cfg, err := NormalizeListenerOptions(map[string]interface{}{
		"port":                             "6001",
		"Name":                             "ADT_1",
		"encoding":                         "ISO-8859-1",
		"override_message_header_ack_type": "true",
		"max_frame_size":                   4096,
		"duplicate_window":                 "5m",
	})
	require.NoError(t, err)

	assert.Equal(t, ListenerConfig{
		Port:                         6001,
		Name:                         "ADT_1",
		Encoding:                     "ISO-8859-1",
		OverrideMessageHeaderAckType: true,
		MaxFrameSize:                 4096,
		DuplicateWindow:              5 * time.Minute,
	}, cfg)
}

func TestNormalizeListenerOptions_OverrideAlias(t *testing.T) {
	cfg, err := NormalizeListenerOptions(map[string]interface{}{"port": 6000, "overrideMSH": true})
	require.NoError(t, err)
	assert.True(t, cfg.OverrideMessageHeaderAckType)
}

func TestNormalizeServerOptions_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]interface{}
		wantErr string
	}{
		{"non string bind address", map[string]interface{}{"bindAddress": 5}, "bindAddress is not valid string."},
		{"both families", map[string]interface{}{"ipv4": true, "ipv6": true}, "ipv4 and ipv6 both can't be set to be exclusive."},
		{"v6 address for v4", map[string]interface{}{"bind_address": "::1", "ipv4": true}, "bindAddress is an invalid ipv4 address."},
		{"v4 address for v6", map[string]interface{}{"bindAddress": "127.0.0.1", "ipv6": true}, "bindAddress is an invalid ipv6 address."},
		{"not an address", map[string]interface{}{"bindAddress": "nope"}, "bindAddress nope is not a valid ip address."},
		{"tls without key", map[string]interface{}{"tls": map[string]interface{}{"cert": "x"}}, "tls requires both a certificate and a private key."},
		{"tls not a map", map[string]interface{}{"tls": 12}, "tls must be a map of options."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeServerOptions(tt.raw)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestNormalizeServerOptions(t *testing.T) {
	cfg, err := NormalizeServerOptions(map[string]interface{}{
		"bindAddress": "::1",
		"ipv6":        "true",
	})
	require.NoError(t, err)

	assert.Equal(t, "::1", cfg.BindAddress)
	assert.False(t, cfg.IPv4)
	assert.True(t, cfg.IPv6)
	assert.Nil(t, cfg.TLS)
	assert.Equal(t, "tcp6", cfg.network())
}

func TestNormalizeServerOptions_TLSFiles(t *testing.T) {
	certPEM, keyPEM, err := certs.Generate([]string{"127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, certs.CertificateFilename)
	keyFile := filepath.Join(dir, certs.PrivateKeyFilename)
	require.NoError(t, os.WriteFile(certFile, certPEM, 0600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))

	cfg, err := NormalizeServerOptions(map[string]interface{}{
		"tls": map[string]interface{}{
			"cert_file":           certFile,
			"key_file":            keyFile,
			"ca_file":             certFile,
			"request_cert":        true,
			"reject_unauthorized": true,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.TLS)

	assert.Equal(t, certPEM, cfg.TLS.Cert)
	assert.Equal(t, keyPEM, cfg.TLS.Key)
	assert.Equal(t, [][]byte{certPEM}, cfg.TLS.CA)
	assert.True(t, cfg.TLS.RequestCert)
	assert.True(t, cfg.TLS.RejectUnauthorized)

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	require.NoError(t, err)
	assert.NotNil(t, tlsConfig.ClientCAs)
	assert.Equal(t, tls.RequireAndVerifyClientCert, tlsConfig.ClientAuth)
}

func TestBuildTLSConfig_ClientAuth(t *testing.T) {
	certPEM, keyPEM, err := certs.Generate([]string{"127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name               string
		requestCert        bool
		rejectUnauthorized bool
		want               tls.ClientAuthType
	}{
		{"no client certificate", false, false, tls.NoClientCert},
		{"reject without request", false, true, tls.NoClientCert},
		{"request only", true, false, tls.RequestClientCert},
		{"request and verify", true, true, tls.RequireAndVerifyClientCert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tlsConfig, err := buildTLSConfig(&TLSConfig{
				Cert:               certPEM,
				Key:                keyPEM,
				CA:                 [][]byte{certPEM},
				RequestCert:        tt.requestCert,
				RejectUnauthorized: tt.rejectUnauthorized,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, tlsConfig.ClientAuth)
			assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
		})
	}
}

func TestBuildTLSConfig_InvalidPair(t *testing.T) {
	_, err := buildTLSConfig(&TLSConfig{Cert: []byte("nope"), Key: []byte("nope")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
