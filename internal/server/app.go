// Package server builds the application graph and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/api"
	"github.com/JakeFAU/pdf-capture-service/internal/auth"
	"github.com/JakeFAU/pdf-capture-service/internal/browser"
	"github.com/JakeFAU/pdf-capture-service/internal/browser/chromedpdriver"
	"github.com/JakeFAU/pdf-capture-service/internal/browser/roddriver"
	"github.com/JakeFAU/pdf-capture-service/internal/capture"
	"github.com/JakeFAU/pdf-capture-service/internal/clock/system"
	"github.com/JakeFAU/pdf-capture-service/internal/config"
	"github.com/JakeFAU/pdf-capture-service/internal/credential"
	"github.com/JakeFAU/pdf-capture-service/internal/download"
	"github.com/JakeFAU/pdf-capture-service/internal/hash/sha256"
	"github.com/JakeFAU/pdf-capture-service/internal/id/uuid"
	"github.com/JakeFAU/pdf-capture-service/internal/logging"
	"github.com/JakeFAU/pdf-capture-service/internal/metrics"
	"github.com/JakeFAU/pdf-capture-service/internal/policy/hosts"
	"github.com/JakeFAU/pdf-capture-service/internal/policy/ratelimit"
	"github.com/JakeFAU/pdf-capture-service/internal/progress"
	progresssinks "github.com/JakeFAU/pdf-capture-service/internal/progress/sinks"
	"github.com/JakeFAU/pdf-capture-service/internal/publisher"
	gcppublisher "github.com/JakeFAU/pdf-capture-service/internal/publisher/pubsub"
	"github.com/JakeFAU/pdf-capture-service/internal/storage"
	drivesink "github.com/JakeFAU/pdf-capture-service/internal/storage/drive"
	gcssink "github.com/JakeFAU/pdf-capture-service/internal/storage/gcs"
	localsink "github.com/JakeFAU/pdf-capture-service/internal/storage/local"
	memorysink "github.com/JakeFAU/pdf-capture-service/internal/storage/memory"
	pgstore "github.com/JakeFAU/pdf-capture-service/internal/storage/postgres"
	s3sink "github.com/JakeFAU/pdf-capture-service/internal/storage/s3"
	"github.com/JakeFAU/pdf-capture-service/internal/telemetry"
	"github.com/JakeFAU/pdf-capture-service/internal/upload"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	service         *download.Service
	credentials     *credential.Store
	flow            *auth.Flow
	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	gcsClient       *gcs.Client
	ledger          *pgstore.CaptureStore
	tracerShutdown  func(context.Context) error
	closeOnce       sync.Once
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	type SanitizedConfig struct {
		ServerPort int    `json:"server_port"`
		Driver     string `json:"browser_driver"`
		Storage    string `json:"storage_backend"`
	}
	logger.Info("Creating application", zap.Any("config", SanitizedConfig{
		ServerPort: cfg.Server.Port,
		Driver:     cfg.Browser.Driver,
		Storage:    cfg.Storage.Backend,
	}))
	return &App{cfg: cfg, logger: logger}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Service returns the download service shared by the HTTP API and the CLI.
func (a *App) Service() *download.Service { return a.service }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.RequestTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application. Later calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
		a.closeObservability(ctx)
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	if err := app.setupTracing(ctx); err != nil {
		return nil, err
	}

	app.logger.Info("building application dependencies")
	app.setupCredentials()

	endpoint, err := app.setupBrowser()
	if err != nil {
		return nil, err
	}
	sink, err := app.setupStorage(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupDatabase(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	pub, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	emitter, err := app.setupProgress()
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	orchestrator := capture.NewOrchestrator(endpoint, capture.Config{
		SettleDelay:  cfg.Capture.SettleDelay,
		ClickTimeout: cfg.Capture.ClickTimeout,
	}, emitter, logger.Named("capture"))

	var relayAuth upload.Authorizer
	deps := download.Deps{
		Capturer:  orchestrator,
		Admission: hosts.New(cfg.Capture.AllowHosts, cfg.Capture.DenyHosts),
		Limiter: ratelimit.New(ratelimit.Config{
			PerHostRPS: cfg.RateLimit.PerHostRPS,
			Burst:      cfg.RateLimit.Burst,
			MaxWait:    cfg.RateLimit.MaxWait,
		}),
		Progress: emitter,
		Hasher:   sha256.New(),
		Clock:    system.New(),
		IDs:      uuid.New(),
	}
	if cfg.Storage.Backend == "drive" {
		relayAuth = app.credentials
	}
	if cfg.Storage.Backend == "drive" || cfg.Capture.RequireAuth {
		deps.Auth = app.credentials
	}
	deps.Relay = upload.NewRelay(sink, relayAuth, cfg.Storage.UploadTimeout, logger.Named("upload"))
	if app.ledger != nil {
		deps.Ledger = app.ledger
	}
	if pub != nil {
		deps.Publisher = pub
	}

	app.service, err = download.New(deps, download.Config{
		NavigationTimeout: cfg.Capture.NavigationTimeout,
		CaptureTimeout:    cfg.Capture.CaptureTimeout,
		DefaultFilename:   cfg.Capture.DefaultFilename,
		RequireAuth:       cfg.Capture.RequireAuth,
	}, logger.Named("download"))
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("download service init failed: %w", err)
	}

	var flow api.AuthFlow
	if app.flow != nil {
		flow = app.flow
	}
	opts := api.Options{
		APIKey:         cfg.Auth.APIKey,
		AuthEnabled:    cfg.Auth.Enabled,
		Version:        cfg.Server.Version,
		RequestTimeout: cfg.RequestTimeout(),
	}
	if app.ledger != nil {
		opts.Ready = app.ledger.Ping
	}
	app.apiServer = api.NewServer(app.service, flow, opts, logger.Named("api"))

	return app, nil
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    a.cfg.Tracing.ServiceName,
		ServiceVersion: a.cfg.Server.Version,
		SampleRatio:    a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	a.logger.Info("tracing enabled", zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio))
	return nil
}

func (a *App) setupCredentials() {
	if a.cfg.OAuth.RefreshToken != "" {
		a.credentials = credential.NewStoreFromRefreshToken(a.cfg.OAuth.RefreshToken)
		a.logger.Info("credential store seeded from refresh token")
	} else {
		a.credentials = credential.NewStore()
	}
	if a.cfg.OAuthEnabled() {
		a.flow = auth.NewFlow(auth.OAuthConfig(a.oauthConfig()), a.credentials)
		a.logger.Info("oauth flow enabled", zap.String("redirect_url", a.cfg.OAuth.RedirectURL))
	}
}

func (a *App) oauthConfig() auth.Config {
	return auth.Config{
		ClientID:     a.cfg.OAuth.ClientID,
		ClientSecret: a.cfg.OAuth.ClientSecret,
		RedirectURL:  a.cfg.OAuth.RedirectURL,
		Scopes:       a.cfg.OAuth.Scopes,
	}
}

func (a *App) setupBrowser() (capture.Endpoint, error) {
	bc := a.cfg.Browser
	if bc.Endpoint == "" {
		return nil, errors.New("browser.endpoint is required")
	}
	endpointURL, err := browser.WithToken(bc.Endpoint, bc.Token)
	if err != nil {
		return nil, fmt.Errorf("browser endpoint: %w", err)
	}
	gate, err := browser.NewGate(bc.MaxParallel, bc.ConnectQPS)
	if err != nil {
		return nil, fmt.Errorf("browser gate init failed: %w", err)
	}
	logger := a.logger.Named("browser")

	switch bc.Driver {
	case "rod":
		ep, err := roddriver.New(roddriver.Config{
			URL:             endpointURL,
			UserAgent:       bc.UserAgent,
			ConnectTimeout:  bc.ConnectTimeout,
			IdleMaxInflight: bc.IdleMaxInflight,
			IdleWindow:      bc.IdleWindow,
		}, gate, logger)
		if err != nil {
			return nil, fmt.Errorf("rod driver init failed: %w", err)
		}
		a.logger.Info("using rod browser driver", zap.Int("max_parallel", bc.MaxParallel))
		return ep, nil
	default:
		ep, err := chromedpdriver.New(chromedpdriver.Config{
			URL:             endpointURL,
			UserAgent:       bc.UserAgent,
			ConnectTimeout:  bc.ConnectTimeout,
			IdleMaxInflight: bc.IdleMaxInflight,
			IdleWindow:      bc.IdleWindow,
		}, gate, logger)
		if err != nil {
			return nil, fmt.Errorf("chromedp driver init failed: %w", err)
		}
		a.logger.Info("using chromedp browser driver", zap.Int("max_parallel", bc.MaxParallel))
		return ep, nil
	}
}

func (a *App) setupStorage(ctx context.Context) (storage.Sink, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		sink, err := gcssink.New(client, gcssink.Config{Bucket: sc.GCSBucket, Prefix: sc.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs sink init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", sc.GCSBucket))
		return sink, nil
	case "s3":
		sink, err := s3sink.New(ctx, s3sink.Config{
			Bucket:          sc.S3.Bucket,
			Prefix:          sc.Prefix,
			Region:          sc.S3.Region,
			Endpoint:        sc.S3.Endpoint,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
			UsePathStyle:    sc.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 sink init failed: %w", err)
		}
		a.logger.Info("using S3 storage backend", zap.String("bucket", sc.S3.Bucket))
		return sink, nil
	case "drive":
		ts := a.credentials.TokenSource(ctx, auth.OAuthConfig(a.oauthConfig()))
		sink, err := drivesink.New(ctx, ts, drivesink.Config{FolderID: sc.DriveFolderID})
		if err != nil {
			return nil, fmt.Errorf("drive sink init failed: %w", err)
		}
		a.logger.Info("using Google Drive storage backend",
			zap.Bool("authorized", a.credentials.IsAuthorized()),
		)
		return sink, nil
	case "local":
		sink, err := localsink.New(localsink.Config{BaseDir: sc.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local sink init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", sc.LocalDir))
		return sink, nil
	case "memory":
		a.logger.Info("using in-memory storage backend")
		return memorysink.NewSink(), nil
	default:
		a.logger.Warn("no storage backend configured; captured files are returned but not uploaded")
		return nil, nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, skipping capture ledger initialization")
		return nil
	}
	store, err := pgstore.NewCaptureStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("capture ledger init failed: %w", err)
	}
	a.ledger = store
	a.logger.Info("capture ledger initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("No Pub/Sub topic configured, completion notices disabled")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = a.pubsubClient.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher), nil
}

func (a *App) setupProgress() (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.Nop{}, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return a.progressHub, nil
}
