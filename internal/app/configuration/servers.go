package configuration

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/form3tech-oss/pact-mock-server/internal/app/mockserver"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ServeAdminAPI starts the admin API in the background.
func ServeAdminAPI(config Config) (*echo.Echo, error) {
	adminServer := NewAdminAPI(config)

	server, err := newServer(config)
	if err != nil {
		return nil, err
	}

	go func() {
		log.Infof("admin API listening on %s", server.Addr)
		if err := adminServer.StartServer(server); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	return adminServer, nil
}

func newServer(config Config) (*http.Server, error) {
	s := &http.Server{
		Addr: fmt.Sprintf(":%d", config.AdminPort),
	}

	if config.TLSCertFile == "" && config.TLSKeyFile == "" {
		if config.TLSCAFile != "" {
			return nil, errors.New("cannot run in mTLS mode without TLS cert and key")
		}
		return s, nil
	}

	cert, err := tls.LoadX509KeyPair(config.TLSCertFile, config.TLSKeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load TLS certificate")
	}
	s.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if config.TLSCAFile != "" {
		caCertFile, err := os.ReadFile(config.TLSCAFile)
		if err != nil {
			return nil, errors.Wrap(err, "error reading CA certificate")
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCertFile) {
			return nil, errors.Errorf("no certificates found in %s", config.TLSCAFile)
		}
		s.TLSConfig.ClientAuth = tls.RequireAndVerifyClientCert
		s.TLSConfig.ClientCAs = certPool
	}

	return s, nil
}

// ShutdownAllServers stops the admin API and every mock server.
func ShutdownAllServers(ctx context.Context, adminServer *echo.Echo) {
	if adminServer != nil {
		if err := adminServer.Shutdown(ctx); err != nil {
			log.Error(err)
		}
	}
	mockserver.CleanupAll()
}
