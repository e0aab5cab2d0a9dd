package configuration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/form3tech-oss/pact-mock-server/internal/app/mockserver"
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AdminPort       int           `env:"ADMIN_PORT,default=8080"`   // Port of the admin API
	PactDir         string        `env:"PACT_DIR,default=./pacts"`  // Default directory pact files are written to
	LogLevel        string        `env:"LOG_LEVEL,default=info"`    // trace, debug, info, warn or error
	WaitDelay       time.Duration `env:"WAIT_DELAY,default=100ms"`  // Default delay between checks of the wait endpoint
	WaitDuration    time.Duration `env:"WAIT_DURATION,default=10s"` // Default time the wait endpoint waits for
	MockServersFile string        `env:"MOCK_SERVERS"`              // YAML file of mock servers to start with the admin API
	TLSCertFile     string        `env:"TLS_CERT_FILE"`             // Serve the admin API over TLS with this certificate
	TLSKeyFile      string        `env:"TLS_KEY_FILE"`              // and this key
	TLSCAFile       string        `env:"TLS_CA_FILE"`               // Require client certificates signed by this CA
}

// MockServerConfig describes a mock server started from a pact file.
type MockServerConfig struct {
	Pact    string `yaml:"pact"`
	Address string `yaml:"address"`
	TLS     bool   `yaml:"tls"`
	CORS    bool   `yaml:"cors"`
}

type mockServersFile struct {
	MockServers []MockServerConfig `yaml:"mockServers"`
}

func NewFromEnv() (Config, error) {
	ctx := context.Background()

	var config Config
	err := envconfig.Process(ctx, &config)
	if err != nil {
		return config, errors.Wrap(err, "process env config")
	}
	return config, nil
}

// LoadMockServers reads a YAML file of mock servers. Relative pact paths are
// resolved against the directory of the file.
func LoadMockServers(file string) ([]MockServerConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "read mock servers file")
	}

	var parsed mockServersFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrapf(err, "parse mock servers file %s", file)
	}

	for i := range parsed.MockServers {
		server := &parsed.MockServers[i]
		if server.Pact == "" {
			return nil, errors.Errorf("mock server %d in %s has no pact", i, file)
		}
		if !filepath.IsAbs(server.Pact) {
			server.Pact = filepath.Join(filepath.Dir(file), server.Pact)
		}
		if server.Address == "" {
			server.Address = "127.0.0.1:0"
		}
	}
	return parsed.MockServers, nil
}

// StartMockServers starts a mock server per configuration. Servers already
// started are cleaned up when one fails.
func StartMockServers(configs []MockServerConfig) ([]*mockserver.MockServer, error) {
	var started []*mockserver.MockServer
	for _, config := range configs {
		server, err := startMockServer(config)
		if err != nil {
			for _, s := range started {
				mockserver.Cleanup(s.Port)
			}
			return nil, err
		}
		started = append(started, server)
	}
	return started, nil
}

func startMockServer(config MockServerConfig) (*mockserver.MockServer, error) {
	data, err := os.ReadFile(config.Pact)
	if err != nil {
		return nil, errors.Wrap(err, "read pact file")
	}
	p, err := pact.Load(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load pact file %s", config.Pact)
	}
	return mockserver.Start(p, config.Address, mockserver.Options{TLS: config.TLS, CORS: config.CORS})
}
