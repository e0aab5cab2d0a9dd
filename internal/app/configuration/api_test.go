package configuration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/form3tech-oss/pact-mock-server/internal/app/mockserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adminClient struct {
	t   *testing.T
	url string
}

func newAdminClient(t *testing.T) *adminClient {
	ts := httptest.NewServer(NewAdminAPI(Config{
		PactDir:      t.TempDir(),
		WaitDelay:    10 * time.Millisecond,
		WaitDuration: 200 * time.Millisecond,
	}))
	t.Cleanup(func() {
		ts.Close()
		mockserver.CleanupAll()
	})
	return &adminClient{t: t, url: ts.URL}
}

func (c *adminClient) do(method, path, body string) (int, string) {
	req, err := http.NewRequest(method, c.url+path, strings.NewReader(body))
	require.NoError(c.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.NoError(c.t, err)
	return res.StatusCode, string(data)
}

func (c *adminClient) create() mockServerStatus {
	code, body := c.do(http.MethodPost, "/mock-servers", `{"pact": `+pingPact+`}`)
	require.Equal(c.t, http.StatusCreated, code, body)

	var status mockServerStatus
	require.NoError(c.t, json.Unmarshal([]byte(body), &status))
	return status
}

func TestReady(t *testing.T) {
	client := newAdminClient(t)

	code, _ := client.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestCreateMockServer(t *testing.T) {
	client := newAdminClient(t)

	status := client.create()

	assert.NotZero(t, status.Port)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", status.Port), status.URL)
	assert.Equal(t, "web", status.Consumer)
	assert.Equal(t, "api", status.Provider)
	assert.False(t, status.Matched)

	res, err := http.Get(status.URL + "/ping")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	code, body := client.do(http.MethodGet, fmt.Sprintf("/mock-servers/%d", status.Port), "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"matched":true`)
}

func TestCreateMockServer_Errors(t *testing.T) {
	client := newAdminClient(t)

	for _, tc := range []struct {
		name     string
		body     string
		expected int
		code     int
	}{
		{name: "not JSON", body: `{`, expected: http.StatusBadRequest, code: codeInvalidInput},
		{name: "no pact", body: `{"address": "127.0.0.1:0"}`, expected: http.StatusBadRequest, code: codeInvalidInput},
		{name: "invalid pact", body: `{"pact": {"consumer": {"name": "web"}}}`, expected: http.StatusBadRequest, code: codeParseFailure},
		{name: "invalid address", body: `{"pact": ` + pingPact + `, "address": "nowhere"}`, expected: http.StatusBadRequest, code: codeInvalidAddress},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, body := client.do(http.MethodPost, "/mock-servers", tc.body)
			assert.Equal(t, tc.expected, code)

			var apiErr struct {
				ErrorMessage string `json:"error_message"`
				Code         int    `json:"code"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &apiErr))
			assert.Equal(t, tc.code, apiErr.Code)
			assert.NotEmpty(t, apiErr.ErrorMessage)
		})
	}
}

func TestListAndDeleteMockServers(t *testing.T) {
	client := newAdminClient(t)
	first := client.create()
	client.create()

	_, body := client.do(http.MethodGet, "/mock-servers", "")
	var statuses []mockServerStatus
	require.NoError(t, json.Unmarshal([]byte(body), &statuses))
	assert.Len(t, statuses, 2)

	code, _ := client.do(http.MethodDelete, fmt.Sprintf("/mock-servers/%d", first.Port), "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = client.do(http.MethodGet, fmt.Sprintf("/mock-servers/%d", first.Port), "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = client.do(http.MethodDelete, "/mock-servers", "")
	assert.Equal(t, http.StatusNoContent, code)
	_, body = client.do(http.MethodGet, "/mock-servers", "")
	assert.JSONEq(t, `[]`, body)
}

func TestMismatches(t *testing.T) {
	client := newAdminClient(t)
	status := client.create()

	res, err := http.Get(status.URL + "/pong")
	require.NoError(t, err)
	res.Body.Close()

	code, body := client.do(http.MethodGet, fmt.Sprintf("/mock-servers/%d/mismatches", status.Port), "")
	assert.Equal(t, http.StatusOK, code)

	var records []mockserver.Record
	require.NoError(t, json.Unmarshal([]byte(body), &records))
	require.Len(t, records, 2)
	assert.Equal(t, mockserver.RecordRequestNotFound, records[0].Type)
	assert.Equal(t, "/pong", records[0].Path)
	assert.Equal(t, mockserver.RecordMissingRequest, records[1].Type)
}

func TestWait(t *testing.T) {
	client := newAdminClient(t)
	status := client.create()

	code, _ := client.do(http.MethodGet, fmt.Sprintf("/mock-servers/%d/wait", status.Port), "")
	assert.Equal(t, http.StatusRequestTimeout, code)

	go func() {
		time.Sleep(20 * time.Millisecond)
		res, err := http.Get(status.URL + "/ping")
		if err == nil {
			res.Body.Close()
		}
	}()

	code, _ = client.do(http.MethodGet, fmt.Sprintf("/mock-servers/%d/wait?duration=2s", status.Port), "")
	assert.Equal(t, http.StatusOK, code)
}

func TestWritePact(t *testing.T) {
	client := newAdminClient(t)
	status := client.create()
	dir := t.TempDir()

	res, err := http.Get(status.URL + "/ping")
	require.NoError(t, err)
	res.Body.Close()

	code, body := client.do(http.MethodPost, fmt.Sprintf("/mock-servers/%d/pact?dir=%s", status.Port, dir), "")
	require.Equal(t, http.StatusOK, code, body)

	data, err := os.ReadFile(filepath.Join(dir, "web-api.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"description": "a ping"`)
}

func TestUnknownMockServer(t *testing.T) {
	client := newAdminClient(t)

	for _, path := range []string{"/mock-servers/1", "/mock-servers/1/mismatches", "/mock-servers/1/wait", "/mock-servers/port"} {
		code, _ := client.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, code, path)
	}
	code, _ := client.do(http.MethodPost, "/mock-servers/1/pact", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCACertificate(t *testing.T) {
	client := newAdminClient(t)

	code, body := client.do(http.MethodGet, "/tls/ca-certificate", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "-----BEGIN CERTIFICATE-----")
}
