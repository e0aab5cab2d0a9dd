package mockserver

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/form3tech-oss/pact-mock-server/internal/app/matching"
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrStart          = errors.New("unable to start mock server")
	ErrTLS            = errors.New("unable to configure TLS")
	ErrNotFound       = errors.New("no mock server running on port")
	ErrWrite          = errors.New("unable to write pact file")
)

var servers sync.Map

type Options struct {
	TLS bool
	// CORS answers preflight requests that no interaction expects.
	CORS bool
	// Release is called once the server has been cleaned up.
	Release func()
}

// MockServer serves the interactions of one pact on its own listener.
type MockServer struct {
	Port      int
	Host      string
	TLS       bool
	CORS      bool
	StartedAt time.Time

	pact     *pact.Pact
	server   *http.Server
	listener net.Listener
	notify   *notify
	release  func()

	mu      sync.Mutex
	matched []int
	records []Record
}

// Start binds addr (host:port, port 0 picks a free port) and serves the pact.
// The pact is copied and deduplicated; later changes to p are not seen.
func Start(p *pact.Pact, addr string, opts Options) (*MockServer, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidAddress, err.Error())
	}
	if port, err := strconv.Atoi(portStr); err != nil || port < 0 || port > 65535 {
		return nil, errors.Wrapf(ErrInvalidAddress, "invalid port '%s'", portStr)
	}

	snapshot := p.Clone()
	snapshot.Deduplicate()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(ErrStart, err.Error())
	}

	if opts.TLS {
		config, err := serverTLSConfig(host)
		if err != nil {
			ln.Close()
			return nil, errors.Wrap(ErrTLS, err.Error())
		}
		ln = tls.NewListener(ln, config)
	}

	s := &MockServer{
		Port:      ln.Addr().(*net.TCPAddr).Port,
		Host:      host,
		TLS:       opts.TLS,
		CORS:      opts.CORS,
		StartedAt: time.Now(),
		pact:      snapshot,
		listener:  ln,
		notify:    newNotify(),
		release:   opts.Release,
		matched:   make([]int, len(snapshot.Interactions)),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Any("/", s.handle)
	e.Any("/*", s.handle)
	s.server = &http.Server{Handler: e}

	if _, loaded := servers.LoadOrStore(s.Port, s); loaded {
		ln.Close()
		return nil, errors.Wrapf(ErrStart, "a mock server is already registered on port %d", s.Port)
	}

	go func() {
		log.Infof("mock server for %s/%s listening on %s", snapshot.Consumer.Name, snapshot.Provider.Name, s.URL())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("mock server on port %d stopped", s.Port)
		}
	}()

	return s, nil
}

func Lookup(port int) (*MockServer, bool) {
	s, ok := servers.Load(port)
	if !ok {
		return nil, false
	}
	return s.(*MockServer), true
}

// All returns the running mock servers ordered by port.
func All() []*MockServer {
	var all []*MockServer
	servers.Range(func(_, value interface{}) bool {
		all = append(all, value.(*MockServer))
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].Port < all[j].Port })
	return all
}

// Cleanup stops the mock server on port and releases its pact.
func Cleanup(port int) bool {
	value, ok := servers.LoadAndDelete(port)
	if !ok {
		return false
	}
	value.(*MockServer).close()
	return true
}

func CleanupAll() {
	servers.Range(func(key, _ interface{}) bool {
		Cleanup(key.(int))
		return true
	})
}

func (s *MockServer) close() {
	if err := s.server.Close(); err != nil {
		log.WithError(err).Warnf("error closing mock server on port %d", s.Port)
	}
	// Serve may not have taken ownership of the listener yet
	_ = s.listener.Close()
	if s.release != nil {
		s.release()
	}
	log.Infof("mock server on port %d stopped", s.Port)
}

// URL is the base URL clients use to reach the server.
func (s *MockServer) URL() string {
	scheme := "http"
	if s.TLS {
		scheme = "https"
	}
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(s.Port)))
}

// Pact returns a copy of the served pact.
func (s *MockServer) Pact() *pact.Pact {
	return s.pact.Clone()
}

// Matched reports whether every interaction was received and no unexpected
// request arrived.
func (s *MockServer) Matched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) > 0 {
		return false
	}
	for _, count := range s.matched {
		if count == 0 {
			return false
		}
	}
	return true
}

// Mismatches returns the recorded mismatches followed by one missing-request
// record per interaction that was never received.
func (s *MockServer) Mismatches() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := append([]Record{}, s.records...)
	for i, count := range s.matched {
		if count > 0 {
			continue
		}
		request := s.pact.Interactions[i].Request
		records = append(records, Record{
			Type:    RecordMissingRequest,
			Method:  request.Method,
			Path:    request.Path,
			Request: newRequestRecord(&request),
		})
	}
	return records
}

// MatchedInteractions returns the interactions received at least once, in pact order.
func (s *MockServer) MatchedInteractions() []*pact.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var interactions []*pact.Interaction
	for i, count := range s.matched {
		if count > 0 {
			interactions = append(interactions, s.pact.Interactions[i].Clone())
		}
	}
	return interactions
}

// WaitForMatched polls until the server is matched or duration has passed.
func WaitForMatched(port int, delay, duration time.Duration) (bool, error) {
	s, ok := Lookup(port)
	if !ok {
		return false, ErrNotFound
	}
	log.WithField("port", port).Info("waiting for all interactions")
	return retryFor(func(timeLeft time.Duration) bool {
		log.WithFields(log.Fields{
			"port":           port,
			"time_remaining": timeLeft,
		}).Debug("retry")
		if s.Matched() {
			return true
		}
		if timeLeft > 0 {
			s.notify.Wait(timeLeft)
		}
		return s.Matched()
	}, delay, duration), nil
}

func (s *MockServer) handle(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.WithError(err).Error("unable to read request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	actual := actualRequest(req, body)
	logger := log.WithFields(log.Fields{
		"port":   s.Port,
		"method": actual.Method,
		"path":   actual.Path,
	})

	var closest []matching.Mismatch
	for i, interaction := range s.pact.Interactions {
		mismatches := matching.MatchRequest(&interaction.Request, actual)
		if len(mismatches) == 0 {
			logger.Debugf("request matched interaction '%s'", interaction.Description)
			s.recordMatch(i)
			return s.respond(c, interaction)
		}
		if closest == nil && matching.SameRoute(mismatches) {
			closest = mismatches
		}
	}

	if s.CORS && isPreflight(req) {
		logger.Debug("answering CORS preflight request")
		return preflight(c)
	}

	record := Record{Method: actual.Method, Path: actual.Path}
	if closest != nil {
		record.Type = RecordRequestMismatch
		record.Mismatches = closest
	} else {
		record.Type = RecordRequestNotFound
		record.Request = newRequestRecord(actual)
	}
	logger.Warnf("unexpected request: %s", record.Type)
	s.recordMismatch(record)

	return c.JSON(http.StatusNotFound, map[string]interface{}{
		"error":      fmt.Sprintf("Unexpected request : %s %s", actual.Method, actual.Path),
		"mismatches": record.Mismatches,
	})
}

func (s *MockServer) recordMatch(i int) {
	s.mu.Lock()
	s.matched[i]++
	s.mu.Unlock()
	s.notify.Notify()
}

func (s *MockServer) recordMismatch(record Record) {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	s.notify.Notify()
}

func (s *MockServer) respond(c echo.Context, interaction *pact.Interaction) error {
	response, err := generateResponse(&interaction.Response, interaction.StateParams(), s.URL())
	if err != nil {
		log.WithError(err).Errorf("unable to generate response for interaction '%s'", interaction.Description)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	header := c.Response().Header()
	for name, values := range response.Headers {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	if !response.Body.IsPresent() {
		c.Response().WriteHeader(response.Status)
		return nil
	}
	contentType := response.ContentType()
	if header.Get(echo.HeaderContentType) == "" && contentType != "" {
		header.Set(echo.HeaderContentType, contentType)
	}
	return c.Blob(response.Status, header.Get(echo.HeaderContentType), response.Body.Content)
}

func actualRequest(req *http.Request, body []byte) *pact.Request {
	query, err := url.ParseQuery(req.URL.RawQuery)
	if err != nil {
		log.WithError(err).Warnf("unable to parse query '%s'", req.URL.RawQuery)
	}
	headers := map[string][]string{}
	for name, values := range req.Header {
		headers[name] = append([]string(nil), values...)
	}
	return &pact.Request{
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  query,
		HTTPPart: pact.HTTPPart{
			Headers: headers,
			Body:    pact.NewBody(body, req.Header.Get(echo.HeaderContentType)),
		},
	}
}

func isPreflight(req *http.Request) bool {
	return req.Method == http.MethodOptions && req.Header.Get(echo.HeaderAccessControlRequestMethod) != ""
}

func preflight(c echo.Context) error {
	header := c.Response().Header()
	origin := c.Request().Header.Get(echo.HeaderOrigin)
	if origin == "" {
		origin = "*"
	}
	header.Set(echo.HeaderAccessControlAllowOrigin, origin)
	header.Set(echo.HeaderAccessControlAllowMethods, "GET, HEAD, POST, PUT, DELETE, CONNECT, OPTIONS, TRACE, PATCH")
	header.Set(echo.HeaderAccessControlAllowHeaders, "*")
	header.Set(echo.HeaderAccessControlAllowCredentials, "true")
	return c.NoContent(http.StatusOK)
}
