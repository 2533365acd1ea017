// Command healthcheck runs the application probes once and prints the report.
//
// Usage:
//
//	healthcheck [--json] [--exit-code]
//
// With --exit-code the process exits 1 whenever the report's HTTP status is
// not 200, which makes it usable as a container health command.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/NomadCrew/chatpulse-backend/config"
	"github.com/NomadCrew/chatpulse-backend/internal/app"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/spf13/cobra"
)

const closeTimeout = 5 * time.Second

// HealthRunner produces one health report.
type HealthRunner interface {
	RunCheck(ctx context.Context) types.HealthReport
}

// runnerFactory builds the runner and returns a cleanup function.
type runnerFactory func(ctx context.Context) (HealthRunner, func(), error)

type options struct {
	json     bool
	exitCode bool
}

// exitError carries a non-zero exit status without an error message.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return "exit status " + strconv.Itoa(e.code)
}

func main() {
	// Keep informational logs out of the report unless asked for.
	if os.Getenv("LOG_LEVEL") == "" {
		_ = os.Setenv("LOG_LEVEL", "error")
	}
	logger.InitLogger()

	root := newRootCmd(buildRunner)
	err := root.ExecuteContext(context.Background())
	_ = logger.Close()

	if err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(factory runnerFactory) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "healthcheck",
		Short:         "Check the health of all application services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, cleanup, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report := runner.RunCheck(cmd.Context())
			code, err := writeReport(cmd.OutOrStdout(), report, opts)
			if err != nil {
				return err
			}
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&opts.exitCode, "exit-code", false, "Exit with non-zero code if unhealthy")
	return cmd
}

func buildRunner(ctx context.Context) (HealthRunner, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	c, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		c.Close(closeCtx)
	}
	return c.Health, cleanup, nil
}

// writeReport prints the report and returns the process exit code.
func writeReport(w io.Writer, report types.HealthReport, opts options) (int, error) {
	if opts.json {
		body, err := json.MarshalIndent(report, "", "    ")
		if err != nil {
			return 1, fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Fprintln(w, string(body))
	} else {
		writeText(w, report)
	}

	switch {
	case opts.exitCode && report.HTTPStatus != http.StatusOK:
		fmt.Fprintln(w, "❌ Application is not fully healthy!")
		return 1, nil
	case report.Status == types.HealthStatusHealthy:
		fmt.Fprintln(w, "✅ Application is healthy!")
	default:
		fmt.Fprintln(w, "⚠️ Application has some issues but is functional")
	}
	return 0, nil
}

func writeText(w io.Writer, report types.HealthReport) {
	fmt.Fprintln(w, "=== Application Health Check ===")
	fmt.Fprintf(w, "Status: %s\n", report.Status)
	fmt.Fprintf(w, "HTTP Status Code: %d\n", report.HTTPStatus)
	fmt.Fprintf(w, "Timestamp: %s\n", report.Timestamp)
	fmt.Fprintf(w, "Processing Time: %sms\n", formatFloat(report.ProcessingTimeMs))
	fmt.Fprintf(w, "Environment: %s\n", report.Environment)
	fmt.Fprintln(w)

	if report.Checks != nil {
		report.Checks.Each(func(r types.ProbeResult) {
			fmt.Fprintf(w, "%s %s: %s - %s\n", statusIcon(r.Status), r.Service, r.Status, r.Message)
			if r.ResponseTimeMs != nil {
				fmt.Fprintf(w, "   Response time: %sms\n", formatFloat(*r.ResponseTimeMs))
			}
			if r.Error != "" {
				fmt.Fprintf(w, "   Error: %s\n", r.Error)
			}
		})
	}
	fmt.Fprintln(w)
}

func statusIcon(s types.HealthStatus) string {
	switch s {
	case types.HealthStatusHealthy:
		return "✅"
	case types.HealthStatusWarning:
		return "⚠️"
	case types.HealthStatusUnhealthy:
		return "❌"
	case types.HealthStatusNotConfigured, types.HealthStatusNotInstalled:
		return "ℹ️"
	default:
		return "🔍"
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
