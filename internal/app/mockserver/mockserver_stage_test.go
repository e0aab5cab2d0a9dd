package mockserver

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pact-foundation/pact-go/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersPact = `{
  "consumer": {"name": "orders-web"},
  "provider": {"name": "orders-api"},
  "interactions": [
    {
      "description": "a request for an order",
      "providerStates": [{"name": "an order exists", "params": {"id": 1234}}],
      "request": {
        "method": "GET",
        "path": "/orders/1234",
        "headers": {"Accept": "application/json"}
      },
      "response": {
        "status": 200,
        "headers": {"Content-Type": "application/json"},
        "body": {"id": 1, "self": "http://example.com/orders/1234", "items": [{"sku": "a"}, {"sku": "b"}]},
        "generators": {
          "body": {
            "$.id": {"type": "ProviderState", "expression": "${id}"},
            "$.self": {"type": "MockServerURL", "example": "http://example.com/orders/1234", "regex": ".*(/orders/\\d+)$"}
          }
        }
      }
    },
    {
      "description": "a request to create an order",
      "request": {
        "method": "POST",
        "path": "/orders",
        "headers": {"Content-Type": "application/json"},
        "body": {"sku": "a", "quantity": 1},
        "matchingRules": {"body": {"$.quantity": {"matchers": [{"match": "integer"}]}}}
      },
      "response": {"status": 201}
    }
  ]
}`

type MockServerStage struct {
	t         *testing.T
	assert    *assert.Assertions
	require   *require.Assertions
	pact      *pact.Pact
	options   Options
	server    *MockServer
	startErr  error
	secondErr error
	released  bool
	response  *http.Response
	body      []byte
	matched   bool
	waited    time.Duration
	pactDir   string
	pactFiles [][]byte
}

func NewMockServerStage(t *testing.T) (*MockServerStage, *MockServerStage, *MockServerStage) {
	s := &MockServerStage{
		t:       t,
		assert:  assert.New(t),
		require: require.New(t),
		pactDir: t.TempDir(),
	}

	t.Cleanup(func() {
		if s.server != nil {
			Cleanup(s.server.Port)
		}
	})

	return s, s, s
}

func (s *MockServerStage) and() *MockServerStage {
	return s
}

func (s *MockServerStage) the_orders_pact() *MockServerStage {
	p, err := pact.Load([]byte(ordersPact))
	s.require.NoError(err)
	s.pact = p
	return s
}

func (s *MockServerStage) cors_is_enabled() *MockServerStage {
	s.options.CORS = true
	return s
}

func (s *MockServerStage) tls_is_enabled() *MockServerStage {
	s.options.TLS = true
	return s
}

func (s *MockServerStage) the_mock_server_is_started() *MockServerStage {
	port, err := utils.GetFreePort()
	s.require.NoError(err)
	return s.the_mock_server_is_started_on(fmt.Sprintf("127.0.0.1:%d", port))
}

func (s *MockServerStage) the_mock_server_is_started_on(addr string) *MockServerStage {
	s.options.Release = func() { s.released = true }
	s.server, s.startErr = Start(s.pact, addr, s.options)
	return s
}

func (s *MockServerStage) another_mock_server_is_started_on_the_same_port() *MockServerStage {
	s.require.NoError(s.startErr)
	other, err := Start(s.pact, fmt.Sprintf("127.0.0.1:%d", s.server.Port), Options{})
	if other != nil {
		Cleanup(other.Port)
	}
	s.secondErr = err
	return s
}

func (s *MockServerStage) a_request_is_sent(method, path, contentType, body string) *MockServerStage {
	return s.a_request_is_sent_with_headers(method, path, body, map[string]string{"Content-Type": contentType})
}

func (s *MockServerStage) a_request_is_sent_with_headers(method, path, body string, headers map[string]string) *MockServerStage {
	s.require.NoError(s.startErr)
	req, err := http.NewRequest(method, s.server.URL()+path, strings.NewReader(body))
	s.require.NoError(err)
	for name, value := range headers {
		if value != "" {
			req.Header.Set(name, value)
		}
	}

	client := http.DefaultClient
	if s.server.TLS {
		client = s.tlsClient()
	}
	resp, err := client.Do(req)
	s.require.NoError(err)
	defer resp.Body.Close()

	s.response = resp
	s.body, err = io.ReadAll(resp.Body)
	s.require.NoError(err)
	return s
}

func (s *MockServerStage) the_order_is_requested() *MockServerStage {
	return s.a_request_is_sent_with_headers(http.MethodGet, "/orders/1234", "", map[string]string{"Accept": "application/json"})
}

func (s *MockServerStage) an_order_is_created_with(body string) *MockServerStage {
	return s.a_request_is_sent(http.MethodPost, "/orders", "application/json", body)
}

func (s *MockServerStage) the_mock_server_is_waited_on() *MockServerStage {
	start := time.Now()
	matched, err := WaitForMatched(s.server.Port, 10*time.Millisecond, 500*time.Millisecond)
	s.waited = time.Since(start)
	s.require.NoError(err)
	s.matched = matched
	return s
}

func (s *MockServerStage) the_pact_file_is_written() *MockServerStage {
	file, err := WritePactFile(s.server.Port, s.pactDir)
	s.require.NoError(err)
	data, err := os.ReadFile(file)
	s.require.NoError(err)
	s.pactFiles = append(s.pactFiles, data)
	return s
}

func (s *MockServerStage) the_mock_server_is_cleaned_up() *MockServerStage {
	s.assert.True(Cleanup(s.server.Port))
	return s
}

func (s *MockServerStage) tlsClient() *http.Client {
	caPEM, err := CACertificatePEM()
	s.require.NoError(err)
	pool := x509.NewCertPool()
	s.require.True(pool.AppendCertsFromPEM([]byte(caPEM)))
	return &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
}

func (s *MockServerStage) the_start_fails_with(target error) *MockServerStage {
	s.assert.ErrorIs(s.startErr, target)
	s.assert.Nil(s.server)
	return s
}

func (s *MockServerStage) the_second_start_fails_with(target error) *MockServerStage {
	s.assert.ErrorIs(s.secondErr, target)
	_, ok := Lookup(s.server.Port)
	s.assert.True(ok)
	return s
}

func (s *MockServerStage) the_response_status_is(status int) *MockServerStage {
	s.assert.Equal(status, s.response.StatusCode)
	return s
}

func (s *MockServerStage) the_response_header_is(name, value string) *MockServerStage {
	s.assert.Equal(value, s.response.Header.Get(name))
	return s
}

func (s *MockServerStage) the_response_body_is(expected string) *MockServerStage {
	s.assert.JSONEq(expected, string(s.body))
	return s
}

func (s *MockServerStage) the_mock_server_is_matched() *MockServerStage {
	s.assert.True(s.server.Matched())
	return s
}

func (s *MockServerStage) the_mock_server_is_not_matched() *MockServerStage {
	s.assert.False(s.server.Matched())
	return s
}

func (s *MockServerStage) the_wait_reports(matched bool) *MockServerStage {
	s.assert.Equal(matched, s.matched)
	return s
}

func (s *MockServerStage) the_wait_returns_within(d time.Duration) *MockServerStage {
	s.assert.Less(s.waited, d)
	return s
}

func (s *MockServerStage) the_mismatch_types_are(types ...string) *MockServerStage {
	var actual []string
	for _, record := range s.server.Mismatches() {
		actual = append(actual, record.Type)
	}
	s.assert.Equal(types, actual)
	return s
}

func (s *MockServerStage) the_mismatch_report_is(expected string) *MockServerStage {
	data, err := MarshalRecords(s.server.Mismatches())
	s.require.NoError(err)
	s.assert.JSONEq(expected, string(data))
	return s
}

func (s *MockServerStage) the_pact_file_has_interactions(descriptions ...string) *MockServerStage {
	s.require.NotEmpty(s.pactFiles)
	var doc struct {
		Interactions []struct {
			Description string `json:"description"`
		} `json:"interactions"`
		Metadata map[string]map[string]string `json:"metadata"`
	}
	s.require.NoError(json.Unmarshal(s.pactFiles[len(s.pactFiles)-1], &doc))

	var actual []string
	for _, interaction := range doc.Interactions {
		actual = append(actual, interaction.Description)
	}
	s.assert.Equal(descriptions, actual)
	s.assert.Equal("3.0.0", doc.Metadata["pactSpecification"]["version"])
	return s
}

func (s *MockServerStage) the_pact_files_are_identical() *MockServerStage {
	s.require.Len(s.pactFiles, 2)
	s.assert.Equal(string(s.pactFiles[0]), string(s.pactFiles[1]))
	s.assert.FileExists(filepath.Join(s.pactDir, "orders-web-orders-api.json"))
	return s
}

func (s *MockServerStage) the_port_is_released() *MockServerStage {
	_, ok := Lookup(s.server.Port)
	s.assert.False(ok)
	s.assert.True(s.released)

	_, err := http.Get(s.server.URL() + "/orders/1234")
	s.assert.Error(err)
	return s
}
