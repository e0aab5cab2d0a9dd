package mockserver

import (
	"os"
	"path/filepath"

	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// WritePactFile writes the interactions the mock server on port received to
// <dir>/<consumer>-<provider>.json, replacing any previous file.
func WritePactFile(port int, dir string) (string, error) {
	s, ok := Lookup(port)
	if !ok {
		return "", ErrNotFound
	}

	served := s.Pact()
	p := pact.New(served.Consumer.Name, served.Provider.Name)
	p.Metadata = served.Metadata
	p.Interactions = s.MatchedInteractions()

	data, err := pact.Marshal(p)
	if err != nil {
		return "", errors.Wrap(ErrWrite, err.Error())
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(ErrWrite, err.Error())
	}
	file := filepath.Join(dir, p.FileName())
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return "", errors.Wrap(ErrWrite, err.Error())
	}

	log.Infof("wrote %d interactions to %s", len(p.Interactions), file)
	return file, nil
}
