package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"busbot/internal/config"
	"busbot/internal/domain"
	"busbot/internal/integrations/rtpi"
	"busbot/internal/usecase"
)

var arrivalsCmd = &cobra.Command{
	Use:   "arrivals <stop>",
	Short: "Print the replies the bot would send for a stop",
	Long:  "Looks up a stop on the real-time passenger information service and prints one line per route, exactly as the bot would reply.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := rtpiSettings(cmd, configPath)
		if err != nil {
			return err
		}
		client := rtpi.NewClient(
			rtpi.WithBaseURL(settings.BaseURL),
			rtpi.WithHTTPClient(&http.Client{Timeout: settings.Timeout}),
		)
		return runArrivals(cmd.Context(), cmd.OutOrStdout(), client, strings.Join(args, " "))
	},
}

func init() {
	arrivalsCmd.Flags().String("base-url", "", "override rtpi.base_url")
	arrivalsCmd.Flags().Duration("timeout", 0, "override rtpi.timeout")
}

// rtpiSettings resolves the transit settings from the config file and
// environment; flags win only when given on the command line.
func rtpiSettings(cmd *cobra.Command, path string) (config.RTPIConfig, error) {
	settings, err := config.LoadRTPI(path)
	if err != nil {
		return config.RTPIConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		if settings.BaseURL, err = flags.GetString("base-url"); err != nil {
			return config.RTPIConfig{}, err
		}
	}
	if flags.Changed("timeout") {
		var timeout time.Duration
		if timeout, err = flags.GetDuration("timeout"); err != nil {
			return config.RTPIConfig{}, err
		}
		if timeout <= 0 {
			return config.RTPIConfig{}, fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		settings.Timeout = timeout
	}
	return settings, nil
}

func runArrivals(ctx context.Context, w io.Writer, q usecase.TransitQuerier, text string) error {
	stop, err := usecase.ExtractStopID(domain.InboundEvent{Payload: domain.TextMessage{Text: text}})
	if err != nil {
		_, _ = fmt.Fprintln(w, usecase.HelpText)
		return nil
	}

	result := q.Query(ctx, stop)
	if f, ok := result.(domain.TransportFailure); ok {
		return fmt.Errorf("stop %s: %w", stop, f.Cause)
	}
	lines := usecase.FormatArrivals(result)
	if len(lines) == 0 {
		_, _ = fmt.Fprintf(w, "No arrivals reported for stop %s\n", stop)
		return nil
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}
