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
	"syscall"

	"github.com/villagehq/village/internal/dotenv"
	"github.com/villagehq/village/pkg/core/analysis"
	analysisanthropic "github.com/villagehq/village/pkg/core/analysis/anthropic"
	analysisgemini "github.com/villagehq/village/pkg/core/analysis/gemini"
	"github.com/villagehq/village/pkg/core/archive"
	"github.com/villagehq/village/pkg/core/calls"
	"github.com/villagehq/village/pkg/core/directory"
	"github.com/villagehq/village/pkg/core/notify"
	"github.com/villagehq/village/pkg/core/tasks"
	"github.com/villagehq/village/pkg/core/telephony"
	"github.com/villagehq/village/pkg/core/village"
	"github.com/villagehq/village/pkg/gateway/config"
	"github.com/villagehq/village/pkg/gateway/events"
	"github.com/villagehq/village/pkg/gateway/lifecycle"
	gatewayserver "github.com/villagehq/village/pkg/gateway/server"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func newAnalyzer(ctx context.Context, cfg config.Config, logger *slog.Logger) (analysis.Analyzer, error) {
	switch cfg.AnalysisProvider {
	case config.ProviderGemini:
		return analysisgemini.New(ctx, cfg.GeminiAPIKey, cfg.AnalysisModel)
	case config.ProviderAnthropic:
		return analysisanthropic.New(cfg.AnthropicAPIKey, cfg.AnalysisModel)
	default:
		logger.Warn("transcript analysis disabled, calls will produce no findings")
		return analysis.Disabled{}, nil
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := archive.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer store.Close()

	analyzer, err := newAnalyzer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build analyzer: %w", err)
	}

	var phone telephony.Placer
	if cfg.TelephonyConfigured() {
		phone = telephony.NewClient(cfg.SIPBaseURL, cfg.SIPAPIKey, cfg.SIPTrunkID, cfg.TelephonyTimeout, nil)
		logger.Info("telephony configured", "base_url", cfg.SIPBaseURL)
	} else {
		logger.Info("telephony not configured, escalations run simulated")
	}

	hub := events.NewHub(events.Config{
		SendBuffer:   cfg.WSSendBuffer,
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
	}, logger)
	tracker := tasks.NewTracker()
	dir := directory.NewInMemory(directory.DemoElder())
	notifier := notify.NewSlack(cfg.SlackWebhookURL, logger)

	callSvc := calls.NewService(hub, dir, nil, tracker, store, logger)
	villageSvc := village.NewService(village.Config{
		DedupWindow:         cfg.EscalationDedupWindow,
		SimulateDialDelay:   cfg.SimulateDialDelay,
		SimulateAnswerDelay: cfg.SimulateAnswerDelay,
		ConnectSettleDelay:  cfg.ConnectSettleDelay,
	}, hub, phone, dir, callSvc, tracker, notifier, store, logger)
	callSvc.SetAnalyzer(analysis.NewOrchestrator(analyzer, callSvc, villageSvc, hub, logger, cfg.AnalysisTimeout))

	lc := &lifecycle.Lifecycle{}
	gw := gatewayserver.New(cfg, gatewayserver.Deps{
		Calls:     callSvc,
		Village:   villageSvc,
		Directory: dir,
		Hub:       hub,
		Lifecycle: lc,
	}, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting village gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"analysis_provider", cfg.AnalysisProvider,
		"archive_enabled", store.Enabled(),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Let in-flight analysis and escalation tasks finish before tearing
	// down the observer connections they publish to.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		logger.Warn("background tasks still running at shutdown", "count", tracker.Count())
	}
	hub.CloseAll()

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("village gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "village-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "village-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
