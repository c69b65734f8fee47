package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/SigFlow/pkg/sigflow"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "sigflow",
		Short:         "Capture logic and analog signals, decode protocols and export annotations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")

	loadConfig := func() (*sigflow.Config, error) {
		if cfgPath == "" {
			return sigflow.DefaultConfig(), nil
		}
		cfg, err := sigflow.LoadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newCaptureCmd(loadConfig),
		newValidateCmd(&cfgPath),
		newDecodersCmd(loadConfig),
		newDevicesCmd(loadConfig),
		newStatsCmd(),
	)
	return root
}

func newCaptureCmd(loadConfig func() (*sigflow.Config, error)) *cobra.Command {
	var (
		output  string
		limit   uint64
		file    string
		noServe bool
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run one capture on the configured device, decode it and export annotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Capture.Output = output
			}
			if limit > 0 {
				cfg.Device.SampleLimit = limit
				cfg.Demo.SampleLimit = limit
			}
			if file != "" {
				cfg.Device.Driver = "file"
				cfg.Device.File = file
			}
			if noServe {
				cfg.Metrics.Addr = ""
			}

			rt, err := sigflow.NewRuntime(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := rt.Run(ctx)
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the capture to this capture log")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "Override the sample limit")
	cmd.Flags().StringVar(&file, "file", "", "Replay a capture log instead of the configured device")
	cmd.Flags().BoolVar(&noServe, "no-metrics", false, "Do not serve /metrics during the capture")
	return cmd
}

func printSummary(w io.Writer, s *sigflow.CaptureSummary) {
	fmt.Fprintf(w, "capture %s on %s: %d samples", s.CaptureID, s.Device, s.Samples)
	if s.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
	for _, d := range s.Decoders {
		if d.Error != "" {
			fmt.Fprintf(w, "  %-8s error: %s\n", d.ID, d.Error)
			continue
		}
		fmt.Fprintf(w, "  %-8s %d annotations\n", d.ID, d.Annotations)
	}
	if s.Output != "" {
		fmt.Fprintf(w, "saved to %s\n", s.Output)
	}
}

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting a capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *cfgPath == "" {
				return fmt.Errorf("--config is required")
			}
			if _, err := sigflow.LoadConfig(*cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good\n", *cfgPath)
			return nil
		},
	}
}

func newDecodersCmd(loadConfig func() (*sigflow.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "decoders",
		Short: "List the available protocol decoders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Export.Timescale.ConnString = ""
			rt, err := sigflow.NewRuntime(cfg, sigflow.WithObservability(quietObs{}))
			if err != nil {
				return err
			}
			defer rt.Close()

			w := cmd.OutOrStdout()
			for _, d := range rt.Decoders() {
				var chs []string
				for _, ch := range d.Channels {
					chs = append(chs, ch.ID)
				}
				for _, ch := range d.OptChannels {
					chs = append(chs, "["+ch.ID+"]")
				}
				fmt.Fprintf(w, "%-8s %-14s channels: %s\n", d.ID, d.Name, strings.Join(chs, " "))
				for _, o := range d.Options {
					fmt.Fprintf(w, "         option %s=%s  %s\n", o.ID, o.Default, o.Desc)
				}
			}
			return nil
		},
	}
}

func newDevicesCmd(loadConfig func() (*sigflow.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Scan the configured drivers and list the devices found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Export.Timescale.ConnString = ""
			rt, err := sigflow.NewRuntime(cfg, sigflow.WithObservability(quietObs{}))
			if err != nil {
				return err
			}
			defer rt.Close()

			devs, scanErr := rt.Devices()
			w := cmd.OutOrStdout()
			for _, d := range devs {
				fmt.Fprintf(w, "%-8s %s (%d channels)\n", d.Driver(), d.Description(), len(d.Channels()))
			}
			return scanErr
		},
	}
}

// statsTargets are the counters printed by the stats command.
var statsTargets = []string{
	"sigflow_samples_total",
	"sigflow_annotations_total",
	"sigflow_annotations_exported_total",
	"sigflow_queue_length",
	"sigflow_capture_state",
}

func newStatsCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Poll the Prometheus metrics endpoint and print live counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Streaming metrics from %s (Ctrl+C to stop)\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					values, err := fetchMetrics(ctx, url)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "stats error: %v\n", err)
						continue
					}
					fmt.Fprintln(w, formatStats(time.Now(), values))
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	return cmd
}

func fetchMetrics(ctx context.Context, url string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return parseMetrics(resp.Body, statsTargets)
}

// parseMetrics reads unlabelled samples of the named metrics from the
// Prometheus text format.
func parseMetrics(r io.Reader, names []string) (map[string]float64, error) {
	values := make(map[string]float64, len(names))
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range names {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	return values, scanner.Err()
}

func formatStats(now time.Time, values map[string]float64) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("[" + now.Format(time.RFC3339) + "]")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%g", strings.TrimPrefix(k, "sigflow_"), values[k])
	}
	return b.String()
}

// quietObs discards logs and metrics for listing commands.
type quietObs struct{ sigflow.NopObservability }
