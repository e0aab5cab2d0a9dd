package pactmock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
)

// AdminConfiguration talks to the admin API of a pact mock server process.
type AdminConfiguration struct {
	client http.Client
	url    string
}

func Configuration(url string) *AdminConfiguration {
	return &AdminConfiguration{
		client: http.Client{
			Timeout: 30 * time.Second,
		},
		url: strings.TrimSuffix(url, "/"),
	}
}

// WaitForReady polls the admin API until it answers or attempts run out.
func (conf *AdminConfiguration) WaitForReady(attempts uint, delay time.Duration) error {
	return retry.Do(func() error {
		res, err := conf.client.Get(conf.url + "/ready")
		if err != nil {
			return err
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return errors.Errorf("admin API not ready: %d", res.StatusCode)
		}
		return nil
	},
		retry.Attempts(attempts),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(delay),
		retry.LastErrorOnly(true))
}

// CreateMockServer starts a mock server serving the pact document.
func (conf *AdminConfiguration) CreateMockServer(pactJSON []byte, opts MockServerOptions) (*MockServer, error) {
	if !json.Valid(pactJSON) {
		return nil, errors.New("pact is not valid JSON")
	}
	content, err := json.Marshal(struct {
		Pact json.RawMessage `json:"pact"`
		MockServerOptions
	}{Pact: pactJSON, MockServerOptions: opts})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal mock server request")
	}

	var status Status
	if err := conf.do(http.MethodPost, "/mock-servers", content, http.StatusCreated, &status); err != nil {
		return nil, err
	}
	return &MockServer{Status: status, conf: conf}, nil
}

// MockServers lists the running mock servers.
func (conf *AdminConfiguration) MockServers() ([]Status, error) {
	var statuses []Status
	err := conf.do(http.MethodGet, "/mock-servers", nil, http.StatusOK, &statuses)
	return statuses, err
}

// CACertificate returns the PEM encoded CA that signs TLS mock server certificates.
func (conf *AdminConfiguration) CACertificate() ([]byte, error) {
	res, err := conf.client.Get(conf.url + "/tls/ca-certificate")
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, apiError(res.StatusCode, body)
	}
	return body, nil
}

// Reset cleans up every mock server.
func (conf *AdminConfiguration) Reset() error {
	return conf.do(http.MethodDelete, "/mock-servers", nil, http.StatusNoContent, nil)
}

func (conf *AdminConfiguration) do(method, path string, content []byte, expected int, out interface{}) error {
	req, err := http.NewRequest(method, conf.url+path, bytes.NewReader(content))
	if err != nil {
		return err
	}
	if content != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := conf.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != expected {
		return apiError(res.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(body, out), "failed to parse response of %s %s", method, path)
}

func apiError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.ErrorMessage == "" {
		apiErr.ErrorMessage = fmt.Sprintf("unexpected status %d: %s", statusCode, string(body))
	}
	return apiErr
}
