package pactmock

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrTimeout = errors.New("timeout waiting for interactions")

// MockServer is a mock server started through the admin API.
type MockServer struct {
	Status
	conf *AdminConfiguration
}

func (m *MockServer) path(suffix string) string {
	return fmt.Sprintf("/mock-servers/%d%s", m.Port, suffix)
}

// Refresh reloads the status of the mock server.
func (m *MockServer) Refresh() error {
	return m.conf.do(http.MethodGet, m.path(""), nil, http.StatusOK, &m.Status)
}

func (m *MockServer) Mismatches() ([]Mismatch, error) {
	var mismatches []Mismatch
	err := m.conf.do(http.MethodGet, m.path("/mismatches"), nil, http.StatusOK, &mismatches)
	return mismatches, err
}

// WaitForAll blocks until every interaction was received, or returns
// ErrTimeout once duration has passed.
func (m *MockServer) WaitForAll(duration time.Duration) error {
	q := url.Values{}
	if duration > 0 {
		q.Add("duration", duration.String())
	}
	err := m.conf.do(http.MethodGet, m.path("/wait?"+q.Encode()), nil, http.StatusOK, &m.Status)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusRequestTimeout {
		return ErrTimeout
	}
	return err
}

// WritePact writes the received interactions to dir on the server's file system.
func (m *MockServer) WritePact(dir string) (string, error) {
	q := url.Values{}
	if dir != "" {
		q.Add("dir", dir)
	}
	var written struct {
		File string `json:"file"`
	}
	err := m.conf.do(http.MethodPost, m.path("/pact?"+q.Encode()), nil, http.StatusOK, &written)
	return written.File, err
}

func (m *MockServer) Cleanup() error {
	return m.conf.do(http.MethodDelete, m.path(""), nil, http.StatusNoContent, nil)
}
