package pactffi

import (
	"strings"

	"github.com/form3tech-oss/pact-mock-server/internal/app/generator"
	"github.com/form3tech-oss/pact-mock-server/internal/app/mockserver"
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// CreateMockServer error codes.
const (
	CreateInvalidInput   int32 = -1
	CreateParseFailure   int32 = -2
	CreateStartFailure   int32 = -3
	CreatePanic          int32 = -4
	CreateInvalidAddress int32 = -5
	CreateTLSFailure     int32 = -6
)

// WritePactFile results.
const (
	WriteOK          int32 = 0
	WritePanic       int32 = 1
	WriteIOFailure   int32 = 2
	WriteUnknownPort int32 = 3
)

// CreateMockServer serves the pact document pactJSON on addr and returns the
// port, or a negative error code.
func CreateMockServer(pactJSON, addr string, tls bool) (port int32) {
	defer recoverTo(&port, CreatePanic, "CreateMockServer")
	if strings.TrimSpace(pactJSON) == "" {
		return CreateInvalidInput
	}
	p, err := pact.Load([]byte(pactJSON))
	if err != nil {
		log.WithError(err).Error("unable to load pact")
		return CreateParseFailure
	}
	return start(p, addr, tls, nil)
}

// CreateMockServerForPact serves a pact built through handles. The pact cannot
// be changed until the mock server is cleaned up.
func CreateMockServerForPact(h PactHandle, addr string, tls bool) (port int32) {
	defer recoverTo(&port, CreatePanic, "CreateMockServerForPact")
	p, release, err := registry.Acquire(h)
	if err != nil {
		log.WithError(err).Warnf("unable to serve pact %d", h.Pact)
		return CreateInvalidInput
	}
	port = start(p, addr, tls, release)
	if port < 0 {
		release()
	}
	return port
}

func start(p *pact.Pact, addr string, tls bool, release func()) int32 {
	s, err := mockserver.Start(p, addr, mockserver.Options{TLS: tls, Release: release})
	if err != nil {
		log.WithError(err).Errorf("unable to start mock server on '%s'", addr)
		switch errors.Cause(err) {
		case mockserver.ErrInvalidAddress:
			return CreateInvalidAddress
		case mockserver.ErrTLS:
			return CreateTLSFailure
		}
		return CreateStartFailure
	}
	return int32(s.Port)
}

func MockServerMatched(port int32) (matched bool) {
	defer recoverTo(&matched, false, "MockServerMatched")
	s, ok := mockserver.Lookup(int(port))
	if !ok {
		return false
	}
	return s.Matched()
}

// MockServerMismatches returns the mismatch report as a JSON array, or nil
// when no mock server runs on port.
func MockServerMismatches(port int32) (report *String) {
	defer recoverTo(&report, nil, "MockServerMismatches")
	s, ok := mockserver.Lookup(int(port))
	if !ok {
		return nil
	}
	data, err := mockserver.MarshalRecords(s.Mismatches())
	if err != nil {
		log.WithError(err).Error("unable to render mismatches")
		return nil
	}
	return newString(string(data))
}

func CleanupMockServer(port int32) (cleaned bool) {
	defer recoverTo(&cleaned, false, "CleanupMockServer")
	return mockserver.Cleanup(int(port))
}

// WritePactFile writes the interactions the mock server received to dir.
func WritePactFile(port int32, dir string) (code int32) {
	defer recoverTo(&code, WritePanic, "WritePactFile")
	if _, err := mockserver.WritePactFile(int(port), dir); err != nil {
		log.WithError(err).Errorf("unable to write pact file for port %d", port)
		if errors.Cause(err) == mockserver.ErrNotFound {
			return WriteUnknownPort
		}
		return WriteIOFailure
	}
	return WriteOK
}

// GetTLSCACertificate returns the PEM encoded CA certificate of TLS mock
// servers. The string is empty when the CA could not be created.
func GetTLSCACertificate() (pem *String) {
	defer func() {
		if r := recover(); r != nil {
			logPanic("GetTLSCACertificate", r)
			pem = newString("")
		}
	}()
	value, err := mockserver.CACertificatePEM()
	if err != nil {
		log.WithError(err).Error("unable to create CA certificate")
		return newString("")
	}
	return newString(value)
}

func CheckRegex(pattern, example string) (matches bool) {
	defer recoverTo(&matches, false, "CheckRegex")
	return generator.CheckRegex(pattern, example)
}

func GenerateRegexValue(pattern string) (result StringResult) {
	defer recoverResult(&result, "GenerateRegexValue")
	value, err := generator.GenerateRegexValue(pattern)
	if err != nil {
		return failedResult(err)
	}
	return okResult(value)
}

func GenerateDatetimeString(format string) (result StringResult) {
	defer recoverResult(&result, "GenerateDatetimeString")
	value, err := generator.GenerateDatetime(format)
	if err != nil {
		return failedResult(err)
	}
	return okResult(value)
}
