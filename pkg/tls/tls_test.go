package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSelfSigned(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")

	created, err := EnsureSelfSigned(certFile, keyFile, "mp4fit.local", "10.0.0.5", "convert.example.test")
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "localhost")
	assert.Contains(t, leaf.DNSNames, "convert.example.test")
	assert.NoError(t, leaf.VerifyHostname("10.0.0.5"))
	assert.NoError(t, leaf.VerifyHostname("127.0.0.1"))

	before, err := os.ReadFile(certFile)
	require.NoError(t, err)
	created, err = EnsureSelfSigned(certFile, keyFile, "mp4fit.local")
	require.NoError(t, err)
	assert.False(t, created, "existing files are kept")
	after, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	_, err := EnsureSelfSigned(certFile, keyFile, "mp4fit.local")
	require.NoError(t, err)
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0644))

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid pair", Config{CertFile: certFile, KeyFile: keyFile}, ""},
		{"disabled", Config{}, "required"},
		{"missing key", Config{CertFile: certFile, KeyFile: filepath.Join(dir, "nope.key")}, "key pair"},
		{"garbage cert", Config{CertFile: garbage, KeyFile: keyFile}, "key pair"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ServerConfig(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got.Certificates, 1)
			assert.Equal(t, uint16(tls.VersionTLS12), got.MinVersion)
		})
	}
}
