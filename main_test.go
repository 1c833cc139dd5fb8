package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	cryptoRand "crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berkmancenter/podpair/credential"
)

type mockServer struct {
	echo    *echo.Echo
	address string
}

func (m *mockServer) Start(e *echo.Echo, address string) error {
	m.echo = e
	m.address = address

	return nil
}

func writeOperatorKey(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), cryptoRand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "operator.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	return path
}

func issuerSeed(t *testing.T) string {
	t.Helper()

	sk, err := credential.GenerateIssuerKey()
	require.NoError(t, err)

	return credential.EncodePrivateKey(sk)
}

func TestStartCmdContents(t *testing.T) {
	cmd := GetStartCmd(&mockServer{})

	require.Equal(t, "start", cmd.Use)
	require.Equal(t, "Start podpair-server", cmd.Short)

	flag := cmd.Flag(hostURLFlagName)
	require.NotNil(t, flag)
	assert.Equal(t, hostURLFlagShorthand, flag.Shorthand)
	assert.Equal(t, hostURLFlagUsage, flag.Usage)
}

func TestStartRelayOnlyWithDefaults(t *testing.T) {
	srv := &mockServer{}
	cmd := GetStartCmd(srv)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, defaultHostURL, srv.address)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartWithIssuer(t *testing.T) {
	srv := &mockServer{}
	cmd := GetStartCmd(srv)
	cmd.SetArgs([]string{
		"--" + hostURLFlagName, "localhost:9999",
		"--" + issuerKeyFlagName, issuerSeed(t),
		"--" + operatorKeyFlagName, writeOperatorKey(t),
		"--" + pairTTLFlagName, "30s",
		"--" + logLevelFlagName, "debug",
	})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "localhost:9999", srv.address)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "publicKey")
}

func TestStartReadsEnvironment(t *testing.T) {
	t.Setenv(hostURLEnvKey, "localhost:7777")
	t.Setenv(issuerKeyEnvKey, issuerSeed(t))
	t.Setenv(operatorKeyEnvKey, writeOperatorKey(t))
	t.Setenv(rdapEnvKey, "false")

	srv := &mockServer{}
	cmd := GetStartCmd(srv)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "localhost:7777", srv.address)
}

func TestStartCmdWithBadArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "blank host url",
			args: []string{"--" + hostURLFlagName, ""},
			want: "host-url value is empty",
		},
		{
			name: "issuer without operator key",
			args: []string{"--" + issuerKeyFlagName, "c2VlZA"},
			want: operatorKeyFlagName,
		},
		{
			name: "malformed issuer key",
			args: []string{"--" + issuerKeyFlagName, "!!", "--" + operatorKeyFlagName, "unused.pem"},
			want: "issuer key",
		},
		{
			name: "bad duration",
			args: []string{"--" + pairTTLFlagName, "soon"},
			want: "invalid value [soon]",
		},
		{
			name: "bad bool",
			args: []string{"--" + rdapFlagName, "maybe"},
			want: rdapFlagName,
		},
		{
			name: "bad max waiting",
			args: []string{"--" + maxWaitingFlagName, "lots"},
			want: maxWaitingFlagName,
		},
		{
			name: "bad log level",
			args: []string{"--" + logLevelFlagName, "loud"},
			want: "init logger",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := GetStartCmd(&mockServer{})
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
