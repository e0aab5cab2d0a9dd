package mockserver

import (
	"bytes"
	"encoding/json"

	"github.com/form3tech-oss/pact-mock-server/internal/app/matching"
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
)

const (
	RecordMissingRequest  = "missing-request"
	RecordRequestNotFound = "request-not-found"
	RecordRequestMismatch = "request-mismatch"
)

// Record is an entry of the mismatch report of a mock server.
type Record struct {
	Type       string              `json:"type"`
	Method     string              `json:"method"`
	Path       string              `json:"path"`
	Request    *RequestRecord      `json:"request,omitempty"`
	Mismatches []matching.Mismatch `json:"mismatches,omitempty"`
}

type RequestRecord struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    interface{}         `json:"body,omitempty"`
}

func newRequestRecord(request *pact.Request) *RequestRecord {
	record := &RequestRecord{
		Method:  request.Method,
		Path:    request.Path,
		Headers: request.Headers,
	}
	if len(request.Query) > 0 {
		record.Query = request.Query
	}
	if request.Body.IsPresent() {
		record.Body = bodyValue(request.Body.Content)
	}
	return record
}

// bodyValue keeps JSON bodies as JSON and everything else as text.
func bodyValue(content []byte) interface{} {
	var value interface{}
	decoder := json.NewDecoder(bytes.NewReader(content))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err == nil && !decoder.More() {
		return value
	}
	return string(content)
}

// MarshalRecords renders records as the JSON array clients consume.
func MarshalRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}
