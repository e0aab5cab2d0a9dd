package configuration

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/form3tech-oss/pact-mock-server/internal/app/httpresponse"
	"github.com/form3tech-oss/pact-mock-server/internal/app/mockserver"
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Result codes reported in API errors, shared with the in-process interface.
const (
	codeInvalidInput   = -1
	codeParseFailure   = -2
	codeStartFailure   = -3
	codeInvalidAddress = -5
	codeTLSFailure     = -6
	codeWriteFailure   = 2
	codeUnknownPort    = 3
)

type adminAPI struct {
	config Config
}

type createMockServerRequest struct {
	Pact    json.RawMessage `json:"pact"`
	Address string          `json:"address"`
	TLS     bool            `json:"tls"`
	CORS    bool            `json:"cors"`
}

type mockServerStatus struct {
	Port      int       `json:"port"`
	URL       string    `json:"url"`
	TLS       bool      `json:"tls"`
	Matched   bool      `json:"matched"`
	Consumer  string    `json:"consumer"`
	Provider  string    `json:"provider"`
	StartedAt time.Time `json:"started_at"`
}

// NewAdminAPI returns the admin API handler.
func NewAdminAPI(config Config) *echo.Echo {
	api := &adminAPI{config: config}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/ready", api.readinessHandler)
	e.GET("/mock-servers", api.listHandler)
	e.POST("/mock-servers", api.createHandler)
	e.DELETE("/mock-servers", api.deleteAllHandler)
	e.GET("/mock-servers/:port", api.statusHandler)
	e.DELETE("/mock-servers/:port", api.deleteHandler)
	e.GET("/mock-servers/:port/mismatches", api.mismatchesHandler)
	e.GET("/mock-servers/:port/wait", api.waitHandler)
	e.POST("/mock-servers/:port/pact", api.writePactHandler)
	e.GET("/tls/ca-certificate", api.caCertificateHandler)

	return e
}

func (a *adminAPI) readinessHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (a *adminAPI) listHandler(c echo.Context) error {
	statuses := []mockServerStatus{}
	for _, s := range mockserver.All() {
		statuses = append(statuses, status(s))
	}
	return c.JSON(http.StatusOK, statuses)
}

func (a *adminAPI) createHandler(c echo.Context) error {
	request := createMockServerRequest{}
	if err := c.Bind(&request); err != nil {
		return c.JSON(
			http.StatusBadRequest,
			httpresponse.Errorf("unable to parse mock server request. %s", err.Error()).WithCode(codeInvalidInput),
		)
	}
	if len(request.Pact) == 0 {
		return c.JSON(http.StatusBadRequest, httpresponse.Error("a pact is required").WithCode(codeInvalidInput))
	}
	if request.Address == "" {
		request.Address = "127.0.0.1:0"
	}

	p, err := pact.Load(request.Pact)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("invalid pact. %s", err.Error()).WithCode(codeParseFailure))
	}

	log.Infof("starting mock server for %s/%s on %s", p.Consumer.Name, p.Provider.Name, request.Address)
	s, err := mockserver.Start(p, request.Address, mockserver.Options{TLS: request.TLS, CORS: request.CORS})
	if err != nil {
		apiErr := httpresponse.Errorf("unable to start mock server. %s", err.Error())
		switch errors.Cause(err) {
		case mockserver.ErrInvalidAddress:
			return c.JSON(http.StatusBadRequest, apiErr.WithCode(codeInvalidAddress))
		case mockserver.ErrTLS:
			return c.JSON(http.StatusInternalServerError, apiErr.WithCode(codeTLSFailure))
		}
		return c.JSON(http.StatusInternalServerError, apiErr.WithCode(codeStartFailure))
	}

	return c.JSON(http.StatusCreated, status(s))
}

func (a *adminAPI) deleteAllHandler(c echo.Context) error {
	log.Infof("cleaning up all mock servers")
	mockserver.CleanupAll()
	return c.NoContent(http.StatusNoContent)
}

func (a *adminAPI) statusHandler(c echo.Context) error {
	s, apiErr := lookup(c)
	if apiErr != nil {
		return c.JSON(http.StatusNotFound, apiErr)
	}
	return c.JSON(http.StatusOK, status(s))
}

func (a *adminAPI) deleteHandler(c echo.Context) error {
	s, apiErr := lookup(c)
	if apiErr != nil {
		return c.JSON(http.StatusNotFound, apiErr)
	}
	mockserver.Cleanup(s.Port)
	return c.NoContent(http.StatusNoContent)
}

func (a *adminAPI) mismatchesHandler(c echo.Context) error {
	s, apiErr := lookup(c)
	if apiErr != nil {
		return c.JSON(http.StatusNotFound, apiErr)
	}
	data, err := mockserver.MarshalRecords(s.Mismatches())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, httpresponse.Errorf("unable to render mismatches. %s", err.Error()))
	}
	return c.JSONBlob(http.StatusOK, data)
}

func (a *adminAPI) waitHandler(c echo.Context) error {
	s, apiErr := lookup(c)
	if apiErr != nil {
		return c.JSON(http.StatusNotFound, apiErr)
	}

	delay := durationParam(c, "delay", a.config.WaitDelay)
	duration := durationParam(c, "duration", a.config.WaitDuration)

	matched, err := mockserver.WaitForMatched(s.Port, delay, duration)
	if err != nil {
		return c.JSON(http.StatusNotFound, httpresponse.Error(err.Error()).WithCode(codeUnknownPort))
	}
	if !matched {
		return c.JSON(http.StatusRequestTimeout, httpresponse.Error("timeout waiting for interactions to be matched"))
	}
	return c.JSON(http.StatusOK, status(s))
}

func (a *adminAPI) writePactHandler(c echo.Context) error {
	s, apiErr := lookup(c)
	if apiErr != nil {
		return c.JSON(http.StatusNotFound, apiErr)
	}

	dir := c.QueryParam("dir")
	if dir == "" {
		dir = a.config.PactDir
	}

	file, err := mockserver.WritePactFile(s.Port, dir)
	if err != nil {
		if errors.Cause(err) == mockserver.ErrNotFound {
			return c.JSON(http.StatusNotFound, httpresponse.Error(err.Error()).WithCode(codeUnknownPort))
		}
		return c.JSON(http.StatusInternalServerError, httpresponse.Errorf("unable to write pact. %s", err.Error()).WithCode(codeWriteFailure))
	}
	return c.JSON(http.StatusOK, map[string]string{"file": file})
}

func (a *adminAPI) caCertificateHandler(c echo.Context) error {
	pem, err := mockserver.CACertificatePEM()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, httpresponse.Errorf("unable to create CA certificate. %s", err.Error()).WithCode(codeTLSFailure))
	}
	return c.Blob(http.StatusOK, "application/x-pem-file", []byte(pem))
}

func lookup(c echo.Context) (*mockserver.MockServer, *httpresponse.APIError) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil {
		return nil, httpresponse.Errorf("invalid port '%s'", c.Param("port")).WithCode(codeUnknownPort)
	}
	s, ok := mockserver.Lookup(port)
	if !ok {
		return nil, httpresponse.Errorf("no mock server running on port %d", port).WithCode(codeUnknownPort)
	}
	return s, nil
}

func durationParam(c echo.Context, name string, fallback time.Duration) time.Duration {
	value := c.QueryParam(name)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.WithError(err).Warnf("ignoring invalid %s '%s'", name, value)
		return fallback
	}
	return d
}

func status(s *mockserver.MockServer) mockServerStatus {
	p := s.Pact()
	return mockServerStatus{
		Port:      s.Port,
		URL:       s.URL(),
		TLS:       s.TLS,
		Matched:   s.Matched(),
		Consumer:  p.Consumer.Name,
		Provider:  p.Provider.Name,
		StartedAt: s.StartedAt,
	}
}
