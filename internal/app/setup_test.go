package app

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/form3tech-oss/pact-mock-server/internal/app/configuration"
	"github.com/pact-foundation/pact-go/utils"
)

var adminURL string

func TestMain(m *testing.M) {
	adminPort, err := utils.GetFreePort()
	if err != nil {
		panic(err)
	}

	pactDir, err := os.MkdirTemp("", "pacts")
	if err != nil {
		panic(err)
	}

	adminServer, err := configuration.ServeAdminAPI(configuration.Config{
		AdminPort:    adminPort,
		PactDir:      pactDir,
		WaitDelay:    50 * time.Millisecond,
		WaitDuration: 5 * time.Second,
	})
	if err != nil {
		panic(err)
	}
	adminURL = fmt.Sprintf("http://localhost:%d", adminPort)

	code := m.Run()

	configuration.ShutdownAllServers(context.Background(), adminServer)
	os.RemoveAll(pactDir)
	os.Exit(code)
}
