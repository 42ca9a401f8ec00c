package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/activeprobe/internal/api"
	"github.com/dgnsrekt/activeprobe/internal/browser"
	"github.com/dgnsrekt/activeprobe/internal/cdp"
	"github.com/dgnsrekt/activeprobe/internal/config"
	"github.com/dgnsrekt/activeprobe/internal/metrics"
	"github.com/dgnsrekt/activeprobe/internal/netutil"
	"github.com/dgnsrekt/activeprobe/internal/notify"
	"github.com/dgnsrekt/activeprobe/internal/probe"
	"github.com/dgnsrekt/activeprobe/internal/relay"
	"github.com/dgnsrekt/activeprobe/internal/report"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
	"github.com/dgnsrekt/activeprobe/internal/trace"
)

var (
	verbose    bool
	cdpIP      string
	cdpPort    int
	technology string
	host       string
	videoURL   string
	planPath   string
	launch     bool
	statusAddr string
	serve      bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "activeprobe",
	Short: "Measure video playback quality in a real browser",
	Long: `activeprobe drives a Chromium instance over the DevTools protocol,
loads a probe test page, starts playback of the given video and reports
player load time, startup delay, stalling and quality switches.

The browser must run with remote debugging enabled, e.g.
  chromium --remote-debugging-port=9222
or pass --launch to start a local one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runProbe,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging and protocol frame trace")
	f.StringVar(&cdpIP, "ip", "127.0.0.1", "browser remote debugging address")
	f.IntVarP(&cdpPort, "port", "p", 9222, "browser remote debugging port")
	f.StringVarP(&technology, "technology", "t", probe.TechnologyHTML5, "player technology (html5|youtube)")
	f.StringVar(&host, "host", "", "base URL of the test pages (default file://<cwd>/html/)")
	f.StringVar(&videoURL, "video-url", "", "video to play")
	f.StringVar(&planPath, "plan", "", "YAML test plan to run instead of a single test")
	f.BoolVar(&launch, "launch", false, "launch a local browser with remote debugging")
	f.StringVar(&statusAddr, "status-addr", "", "serve the status API on this address")
	f.BoolVar(&serve, "serve", false, "keep the status API running after the tests until interrupted")
	f.BoolVar(&jsonOut, "json", false, "print results as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("activeprobe failed", "error", err)
		os.Exit(1)
	}
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Keep stdout clean for the JSON document.
	var console io.Writer = os.Stdout
	if jsonOut {
		console = os.Stderr
	}
	if err := setupLogger(cfg.SlogLevel(), cfg.LogFile, console); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("activeprobe config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"technology", cfg.Technology,
		"video_url", cfg.VideoURL,
		"plan", cfg.PlanPath,
		"command_timeout_ms", cfg.CommandTimeoutMS,
		"run_timeout_s", cfg.RunTimeoutS,
		"close_on_finish", cfg.CloseOnFinish,
		"status_addr", cfg.StatusAddr,
		"notify_url", cfg.NotifyURL,
		"verbose", cfg.Verbose,
	)

	cases, err := cfg.TestCases(time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		l := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
			Headless:   cfg.BrowserHeadless,
		})
		if err := l.Launch(ctx); err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer l.Stop()
	}

	collector := metrics.NewCollector()
	broker := relay.NewBroker()
	defer broker.CloseAll()

	observers := []telemetry.Observer{collector, relay.NewPublisher(broker)}
	opts := probe.RunnerOptions{
		DebugHTTP:      cfg.GetCDPURL(),
		Prefix:         cfg.Prefix,
		CommandTimeout: cfg.CommandTimeout(),
		RunTimeout:     cfg.RunTimeout(),
		CloseOnFinish:  cfg.CloseOnFinish,
		Observer:       collector,
	}

	if cfg.Verbose {
		stamp := time.Now().UTC().Format("20060102T150405")
		frames := trace.NewFrameTracer(cfg.TraceDir, "frames-"+stamp, 50)
		events := trace.NewEventRecorder(cfg.TraceDir, "events-"+stamp, 50)
		defer closeQuietly("frame trace", frames.Close)
		defer closeQuietly("event trace", events.Close)
		opts.Tracer = frames
		observers = append(observers, events)
		slog.Info("Protocol trace enabled", "dir", filepath.Clean(cfg.TraceDir))
	}

	if cfg.NotifyURL != "" {
		n := notify.NewNotifier(cfg.NotifyURL, nil)
		defer n.Wait()
		observers = append(observers, n)
	}

	runs := telemetry.NewRunSet(observers...)
	tracker := api.NewTracker(runs)
	opts.OnSession = tracker.SetSession

	var srv *http.Server
	if cfg.StatusAddr != "" {
		srv, err = startStatusServer(cfg, tracker, broker, collector)
		if err != nil {
			return err
		}
		defer shutdownServer(srv)
	}

	runner := probe.NewRunner(opts, runs)
	var (
		reports []telemetry.Report
		failed  error
	)
	for _, tc := range cases {
		slog.Info("Starting test", "name", tc.Name, "technology", tc.Technology, "page_url", tc.PageURL)
		run, err := runner.Run(ctx, tc)
		if run != nil {
			rep := run.Report(false)
			reports = append(reports, rep)
			if !jsonOut {
				if werr := report.WriteText(os.Stdout, rep); werr != nil {
					slog.Warn("Failed to write report", "error", werr)
				}
			}
		}
		if err != nil {
			slog.Error("Test failed", "name", tc.Name, "error", err)
			if failed == nil {
				failed = err
			}
			if isFatal(err) || ctx.Err() != nil {
				break
			}
		}
	}

	if jsonOut {
		if err := report.WriteJSON(os.Stdout, reports); err != nil {
			slog.Warn("Failed to write JSON report", "error", err)
		}
	}

	if srv != nil && serve && ctx.Err() == nil {
		slog.Info("Tests done, status API still serving", "addr", srv.Addr)
		slog.Info("Press Ctrl+C to stop")
		<-ctx.Done()
		slog.Info("Shutdown signal received")
	}
	return failed
}

// applyFlags overrides config values with flags given on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if f.Changed("ip") {
		cfg.CDPAddress = cdpIP
	}
	if f.Changed("port") {
		cfg.CDPPort = cdpPort
	}
	if f.Changed("technology") {
		cfg.Technology = technology
	}
	if f.Changed("host") {
		cfg.Host = host
	}
	if f.Changed("video-url") {
		cfg.VideoURL = videoURL
	}
	if f.Changed("plan") {
		cfg.PlanPath = planPath
	}
	if f.Changed("launch") {
		cfg.LaunchBrowser = launch
	}
	if f.Changed("status-addr") {
		cfg.StatusAddr = statusAddr
	}
}

// isFatal reports transport failures that make further tests pointless.
func isFatal(err error) bool {
	switch cdp.ErrorCode(err) {
	case cdp.CodeEmptyEndpointList, cdp.CodeDiscoveryFailed, cdp.CodeNoDebuggerURL, cdp.CodeConnectionFailed:
		return true
	}
	return false
}

func startStatusServer(cfg *config.Config, svc api.Service, broker *relay.Broker, collector *metrics.Collector) (*http.Server, error) {
	ln, err := netutil.Listen(cfg.StatusAddr, cfg.StatusPortCandidates, len(cfg.StatusPortCandidates) > 0)
	if err != nil {
		return nil, fmt.Errorf("status API: %w", err)
	}
	h := api.NewServer(svc, api.Options{Broker: broker, Metrics: collector.Handler()})
	srv := &http.Server{Addr: ln.Addr().String(), Handler: h, ReadHeaderTimeout: 10 * time.Second}
	// Shutdown waits for active requests; open event streams only end once
	// their broker subscription is closed.
	srv.RegisterOnShutdown(broker.CloseAll)

	go func() {
		slog.Info("Status API listening", "addr", srv.Addr, "docs", "http://"+srv.Addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status API server failed", "error", err)
		}
	}()
	return srv, nil
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Status API shutdown failed", "error", err)
	}
}

func closeQuietly(what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		slog.Warn("Close failed", "what", what, "error", err)
	}
}

func setupLogger(level slog.Level, filename string, console io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(console, logWriter), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
