// Package cli defines the cobra commands of examctl, the terminal exam runner.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/logger"
	"github.com/stemsi/exam-gateway/internal/transport"
	"github.com/stemsi/exam-gateway/internal/validator"
)

var (
	apiURL   string
	logLevel string
	timeout  time.Duration
	version  = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "examctl",
	Short: "Take admission exams and review results from the terminal",
	Long: `examctl talks to the admissions API directly. It takes an exam
question by question with a live countdown, lists past attempts and
shows the result of a finished attempt.

The API token is read from EXAM_API_TOKEN, or prompted for when unset.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cfg := config.Load()

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", cfg.UpstreamURL, "Admissions API base URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level written to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", cfg.UpstreamTimeout, "Per-request timeout")

	rootCmd.AddCommand(takeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(resultCmd)
}

// client bundles what every command needs to reach the API.
type client struct {
	transport *transport.HTTPTransport
	log       zerolog.Logger
	ctx       context.Context
}

// newClient resolves the token and builds the transport. Logs go to stderr
// so they never interleave with the exam rendered on stdout.
func newClient(cmd *cobra.Command) (*client, error) {
	token, err := readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	validator.Setup()
	log := logger.New(cmd.ErrOrStderr(), logLevel, "pretty")
	tr := transport.NewHTTPTransport(transport.Config{BaseURL: apiURL, Timeout: timeout}, log)

	return &client{
		transport: tr,
		log:       log,
		ctx:       transport.WithToken(cmd.Context(), token),
	}, nil
}
