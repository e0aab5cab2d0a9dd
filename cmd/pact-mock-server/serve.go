package main

import (
	"context"
	"time"

	"github.com/form3tech-oss/pact-mock-server/internal/app/configuration"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveConfigFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API, optionally starting the mock servers of a YAML file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := configuration.NewFromEnv()
		if err != nil {
			return err
		}
		setLogLevel(config.LogLevel)

		if serveConfigFile != "" {
			config.MockServersFile = serveConfigFile
		}
		if config.MockServersFile != "" {
			mockServers, err := configuration.LoadMockServers(config.MockServersFile)
			if err != nil {
				return err
			}
			started, err := configuration.StartMockServers(mockServers)
			if err != nil {
				return err
			}
			for _, s := range started {
				log.Infof("mock server for %s listening on %s", s.Pact().Consumer.Name, s.URL())
			}
		}

		adminServer, err := configuration.ServeAdminAPI(config)
		if err != nil {
			configuration.ShutdownAllServers(context.Background(), nil)
			return err
		}

		waitForSignal()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		configuration.ShutdownAllServers(ctx, adminServer)
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "YAML file of mock servers to start (overrides MOCK_SERVERS)")
	rootCmd.AddCommand(serveCmd)
}
