package app

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/form3tech-oss/pact-mock-server/pkg/pactffi"
	"github.com/form3tech-oss/pact-mock-server/pkg/pactmock"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	postAddressPact         = "A request to create an address"
	postNamePactWithAnyName = "A request to create a user with any name"
)

type ConcurrentMockServerStage struct {
	t                                  *testing.T
	assert                             *assert.Assertions
	require                            *require.Assertions
	admin                              *pactmock.AdminConfiguration
	pact                               pactffi.PactHandle
	server                             *pactmock.MockServer
	userBody                           string
	concurrentUserRequestsPerSecond    int
	concurrentUserRequestsDuration     time.Duration
	concurrentAddressRequestsPerSecond int
	concurrentAddressRequestsDuration  time.Duration
	userResponses                      []*http.Response
	addressResponses                   []*http.Response
}

func NewConcurrentMockServerStage(t *testing.T) (*ConcurrentMockServerStage, *ConcurrentMockServerStage, *ConcurrentMockServerStage) {
	admin := pactmock.Configuration(adminURL)
	if err := admin.WaitForReady(20, 50*time.Millisecond); err != nil {
		t.Fatalf("admin API not ready: %v", err)
	}

	s := &ConcurrentMockServerStage{
		t:        t,
		assert:   assert.New(t),
		require:  require.New(t),
		admin:    admin,
		pact:     pactffi.NewPact("web", "users-api"),
		userBody: `{"name": "jim"}`,
	}

	t.Cleanup(func() {
		if err := admin.Reset(); err != nil {
			t.Logf("unable to reset mock servers: %v", err)
		}
		pactffi.FreePact(s.pact)
	})

	return s, s, s
}

func (s *ConcurrentMockServerStage) and() *ConcurrentMockServerStage {
	return s
}

func (s *ConcurrentMockServerStage) a_pact_that_allows_any_names() *ConcurrentMockServerStage {
	i := pactffi.NewInteraction(s.pact, postNamePactWithAnyName)
	s.require.True(pactffi.WithRequest(i, "POST", "/users"))
	s.require.True(pactffi.WithHeader(i, pactffi.PartRequest, "Content-Type", 0, "application/json"))
	s.require.True(pactffi.WithBody(i, pactffi.PartRequest, "application/json",
		`{"name": {"pact:matcher:type": "regex", "regex": "[a-z]+", "value": "any"}}`))
	s.require.True(pactffi.ResponseStatus(i, 200))
	s.require.True(pactffi.WithBody(i, pactffi.PartResponse, "application/json", `{"name": "any"}`))
	return s
}

func (s *ConcurrentMockServerStage) a_pact_that_allows_any_address() *ConcurrentMockServerStage {
	i := pactffi.NewInteraction(s.pact, postAddressPact)
	s.require.True(pactffi.WithRequest(i, "POST", "/addresses"))
	s.require.True(pactffi.WithHeader(i, pactffi.PartRequest, "Content-Type", 0, "application/json"))
	s.require.True(pactffi.WithBody(i, pactffi.PartRequest, "application/json",
		`{"address": {"pact:matcher:type": "type", "value": "any"}}`))
	s.require.True(pactffi.ResponseStatus(i, 201))
	s.require.True(pactffi.WithBody(i, pactffi.PartResponse, "application/json", `{"address": "any"}`))
	return s
}

func (s *ConcurrentMockServerStage) the_mock_server_is_created() *ConcurrentMockServerStage {
	pactJSON := pactffi.PactJSON(s.pact)
	s.require.NotNil(pactJSON)
	defer pactffi.FreeString(pactJSON)

	server, err := s.admin.CreateMockServer([]byte(pactJSON.String()), pactmock.MockServerOptions{})
	s.require.NoError(err)
	s.server = server
	return s
}

func (s *ConcurrentMockServerStage) x_concurrent_user_requests_per_second_are_made_for_y_seconds(x int, y time.Duration) *ConcurrentMockServerStage {
	s.concurrentUserRequestsPerSecond = x
	s.concurrentUserRequestsDuration = y
	return s
}

func (s *ConcurrentMockServerStage) x_concurrent_address_requests_per_second_are_made_for_y_seconds(x int, y time.Duration) *ConcurrentMockServerStage {
	s.concurrentAddressRequestsPerSecond = x
	s.concurrentAddressRequestsDuration = y
	return s
}

func (s *ConcurrentMockServerStage) the_user_requests_have_a_numeric_name() *ConcurrentMockServerStage {
	s.userBody = `{"name": 42}`
	return s
}

func (s *ConcurrentMockServerStage) the_concurrent_requests_are_sent() *ConcurrentMockServerStage {
	wg := sync.WaitGroup{}
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.userResponses = s.makeUserRequests()
	}()

	go func() {
		defer wg.Done()
		s.addressResponses = s.makeAddressRequests()
	}()

	wg.Wait()
	return s
}

func (s *ConcurrentMockServerStage) all_the_user_responses_should_have_the_right_status_code() *ConcurrentMockServerStage {
	expectedLen := s.concurrentUserRequestsPerSecond * int(s.concurrentUserRequestsDuration/time.Second)
	s.assert.Len(s.userResponses, expectedLen, "number of user responses is not as expected")

	for _, res := range s.userResponses {
		s.assert.Equal(http.StatusOK, res.StatusCode, "expected user status code")
	}
	return s
}

func (s *ConcurrentMockServerStage) all_the_address_responses_should_have_the_right_status_code() *ConcurrentMockServerStage {
	expectedLen := s.concurrentAddressRequestsPerSecond * int(s.concurrentAddressRequestsDuration/time.Second)
	s.assert.Len(s.addressResponses, expectedLen, "number of address responses is not as expected")

	for _, res := range s.addressResponses {
		s.assert.Equal(http.StatusCreated, res.StatusCode, "expected address status code")
	}
	return s
}

func (s *ConcurrentMockServerStage) all_the_user_responses_should_be_not_found() *ConcurrentMockServerStage {
	s.assert.NotEmpty(s.userResponses)
	for _, res := range s.userResponses {
		s.assert.Equal(http.StatusNotFound, res.StatusCode, "expected user status code")
	}
	return s
}

func (s *ConcurrentMockServerStage) the_mock_server_is_matched_without_mismatches() *ConcurrentMockServerStage {
	s.require.NoError(s.server.WaitForAll(time.Second))

	mismatches, err := s.server.Mismatches()
	s.require.NoError(err)
	s.assert.Empty(mismatches)
	return s
}

func (s *ConcurrentMockServerStage) every_invalid_request_is_reported_as_a_mismatch() *ConcurrentMockServerStage {
	mismatches, err := s.server.Mismatches()
	s.require.NoError(err)

	var requestMismatches int
	for _, m := range mismatches {
		if m.Type == "request-mismatch" {
			requestMismatches++
			s.assert.Equal("/users", m.Path)
		}
	}
	s.assert.Equal(len(s.userResponses), requestMismatches)
	s.assert.Equal(pactmock.ErrTimeout, s.server.WaitForAll(100*time.Millisecond))
	return s
}

func (s *ConcurrentMockServerStage) makeUserRequests() []*http.Response {
	return s.makeRequests(s.concurrentUserRequestsPerSecond, s.concurrentUserRequestsDuration, "/users", s.userBody)
}

func (s *ConcurrentMockServerStage) makeAddressRequests() []*http.Response {
	return s.makeRequests(s.concurrentAddressRequestsPerSecond, s.concurrentAddressRequestsDuration, "/addresses", `{"address": "1 main street"}`)
}

func (s *ConcurrentMockServerStage) makeRequests(perSecond int, duration time.Duration, path, body string) []*http.Response {
	if perSecond == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		responses []*http.Response
	)

	ticker := time.NewTicker(time.Second / time.Duration(perSecond))
	defer ticker.Stop()

	total := perSecond * int(duration/time.Second)
	for i := 0; i < total; i++ {
		<-ticker.C
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := http.Post(fmt.Sprintf("%s%s", s.server.URL, path), "application/json", strings.NewReader(body))
			if err != nil {
				log.WithError(err).Errorf("request to %s failed", path)
				return
			}
			res.Body.Close()

			mu.Lock()
			defer mu.Unlock()
			responses = append(responses, res)
		}()
	}

	wg.Wait()
	return responses
}
