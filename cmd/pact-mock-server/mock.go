package main

import (
	"fmt"
	"os"

	"github.com/form3tech-oss/pact-mock-server/internal/app/mockserver"
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mockFlags struct {
	pact     string
	addr     string
	tls      bool
	cors     bool
	out      string
	logLevel string
}

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve a single pact file until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		setLogLevel(mockFlags.logLevel)

		data, err := os.ReadFile(mockFlags.pact)
		if err != nil {
			return errors.Wrap(err, "read pact file")
		}
		p, err := pact.Load(data)
		if err != nil {
			return errors.Wrapf(err, "load pact file %s", mockFlags.pact)
		}

		s, err := mockserver.Start(p, mockFlags.addr, mockserver.Options{TLS: mockFlags.tls, CORS: mockFlags.cors})
		if err != nil {
			return err
		}
		defer mockserver.Cleanup(s.Port)
		fmt.Fprintln(cmd.OutOrStdout(), s.URL())

		waitForSignal()

		if mockFlags.out != "" {
			file, err := mockserver.WritePactFile(s.Port, mockFlags.out)
			if err != nil {
				return err
			}
			log.Infof("pact written to %s", file)
		}

		if !s.Matched() {
			report, err := mockserver.MarshalRecords(s.Mismatches())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), string(report))
			return errors.New("not all interactions were matched")
		}
		return nil
	},
}

func init() {
	mockCmd.Flags().StringVar(&mockFlags.pact, "pact", "", "Pact file to serve")
	mockCmd.Flags().StringVar(&mockFlags.addr, "addr", "127.0.0.1:0", "Address to listen on")
	mockCmd.Flags().BoolVar(&mockFlags.tls, "tls", false, "Serve over TLS with a self-signed certificate")
	mockCmd.Flags().BoolVar(&mockFlags.cors, "cors", false, "Answer CORS preflight requests")
	mockCmd.Flags().StringVar(&mockFlags.out, "out", "", "Directory to write the received interactions to on exit")
	mockCmd.Flags().StringVar(&mockFlags.logLevel, "log-level", "info", "trace, debug, info, warn or error")
	_ = mockCmd.MarkFlagRequired("pact")
	rootCmd.AddCommand(mockCmd)
}
