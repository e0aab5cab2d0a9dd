package pactmock

import (
	"encoding/json"
	"time"
)

type Status struct {
	Port      int       `json:"port"`
	URL       string    `json:"url"`
	TLS       bool      `json:"tls"`
	Matched   bool      `json:"matched"`
	Consumer  string    `json:"consumer"`
	Provider  string    `json:"provider"`
	StartedAt time.Time `json:"started_at"`
}

// Mismatch is an entry of the mismatch report of a mock server.
type Mismatch struct {
	Type       string          `json:"type"`
	Method     string          `json:"method"`
	Path       string          `json:"path"`
	Request    json.RawMessage `json:"request,omitempty"`
	Mismatches []Detail        `json:"mismatches,omitempty"`
}

type Detail struct {
	Type      string      `json:"type"`
	Path      string      `json:"path,omitempty"`
	Key       string      `json:"key,omitempty"`
	Parameter string      `json:"parameter,omitempty"`
	Expected  interface{} `json:"expected"`
	Actual    interface{} `json:"actual"`
	Mismatch  string      `json:"mismatch"`
}

type MockServerOptions struct {
	Address string `json:"address,omitempty"`
	TLS     bool   `json:"tls,omitempty"`
	CORS    bool   `json:"cors,omitempty"`
}

type APIError struct {
	StatusCode   int    `json:"-"`
	ErrorMessage string `json:"error_message"`
	Code         int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.ErrorMessage
}
