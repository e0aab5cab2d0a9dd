package pactmock_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/form3tech-oss/pact-mock-server/internal/app/configuration"
	"github.com/form3tech-oss/pact-mock-server/internal/app/mockserver"
	"github.com/form3tech-oss/pact-mock-server/pkg/pactmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingPact = `{
	"consumer": {"name": "web"},
	"provider": {"name": "api"},
	"interactions": [{
		"description": "a ping",
		"request": {"method": "GET", "path": "/ping"},
		"response": {"status": 204}
	}],
	"metadata": {"pactSpecification": {"version": "3.0.0"}}
}`

func newConfiguration(t *testing.T) *pactmock.AdminConfiguration {
	ts := httptest.NewServer(configuration.NewAdminAPI(configuration.Config{
		PactDir:      t.TempDir(),
		WaitDelay:    10 * time.Millisecond,
		WaitDuration: 100 * time.Millisecond,
	}))
	t.Cleanup(func() {
		ts.Close()
		mockserver.CleanupAll()
	})

	conf := pactmock.Configuration(ts.URL + "/")
	require.NoError(t, conf.WaitForReady(5, 10*time.Millisecond))
	return conf
}

func ping(t *testing.T, server *pactmock.MockServer) {
	res, err := http.Get(server.URL + "/ping")
	require.NoError(t, err)
	res.Body.Close()
}

func TestMockServerLifecycle(t *testing.T) {
	conf := newConfiguration(t)

	server, err := conf.CreateMockServer([]byte(pingPact), pactmock.MockServerOptions{})
	require.NoError(t, err)
	assert.NotZero(t, server.Port)
	assert.Equal(t, "web", server.Consumer)
	assert.Equal(t, "api", server.Provider)

	assert.Equal(t, pactmock.ErrTimeout, server.WaitForAll(50*time.Millisecond))

	ping(t, server)
	require.NoError(t, server.WaitForAll(time.Second))
	assert.True(t, server.Matched)

	dir := t.TempDir()
	file, err := server.WritePact(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "web-api.json"), file)
	_, err = os.Stat(file)
	assert.NoError(t, err)

	require.NoError(t, server.Cleanup())
	err = server.Refresh()
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, err.(*pactmock.APIError).StatusCode)
}

func TestMismatches(t *testing.T) {
	conf := newConfiguration(t)
	server, err := conf.CreateMockServer([]byte(pingPact), pactmock.MockServerOptions{})
	require.NoError(t, err)

	res, err := http.Get(server.URL + "/pong")
	require.NoError(t, err)
	res.Body.Close()

	mismatches, err := server.Mismatches()
	require.NoError(t, err)
	require.Len(t, mismatches, 2)
	assert.Equal(t, "request-not-found", mismatches[0].Type)
	assert.Equal(t, "/pong", mismatches[0].Path)
	assert.Equal(t, "missing-request", mismatches[1].Type)
	assert.Equal(t, "/ping", mismatches[1].Path)
}

func TestCreateMockServerErrors(t *testing.T) {
	conf := newConfiguration(t)

	_, err := conf.CreateMockServer([]byte(`{`), pactmock.MockServerOptions{})
	assert.Error(t, err)

	_, err = conf.CreateMockServer([]byte(`{"consumer": {"name": "web"}}`), pactmock.MockServerOptions{})
	require.Error(t, err)
	apiErr, ok := err.(*pactmock.APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, -2, apiErr.Code)

	_, err = conf.CreateMockServer([]byte(pingPact), pactmock.MockServerOptions{Address: "nowhere"})
	require.Error(t, err)
	assert.Equal(t, -5, err.(*pactmock.APIError).Code)
}

func TestReset(t *testing.T) {
	conf := newConfiguration(t)
	for i := 0; i < 2; i++ {
		_, err := conf.CreateMockServer([]byte(pingPact), pactmock.MockServerOptions{CORS: true})
		require.NoError(t, err)
	}

	statuses, err := conf.MockServers()
	require.NoError(t, err)
	assert.Len(t, statuses, 2)

	require.NoError(t, conf.Reset())
	statuses, err = conf.MockServers()
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestTLSMockServer(t *testing.T) {
	conf := newConfiguration(t)

	server, err := conf.CreateMockServer([]byte(pingPact), pactmock.MockServerOptions{TLS: true})
	require.NoError(t, err)
	assert.True(t, server.TLS)
	assert.Contains(t, server.URL, "https://")

	ca, err := conf.CACertificate()
	require.NoError(t, err)
	assert.Contains(t, string(ca), "BEGIN CERTIFICATE")
}

func TestWaitForReadyFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	err := pactmock.Configuration(ts.URL).WaitForReady(2, time.Millisecond)
	assert.Error(t, err)
}
