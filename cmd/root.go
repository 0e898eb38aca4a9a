// Package cmd defines the CLI commands of the pdfcapture executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/config"
	"github.com/JakeFAU/pdf-capture-service/internal/download"
	"github.com/JakeFAU/pdf-capture-service/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Downloader runs one capture.
type Downloader interface {
	Download(ctx context.Context, sourceURL string) (download.Result, error)
}

// App defines the application interface that commands use. Tests inject a
// fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Downloader() Downloader
}

type serverApp struct {
	*server.App
}

func (s serverApp) Downloader() Downloader { return s.Service() }

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	a, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{a}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pdfcapture",
		Short: "Captures PDFs served behind landing pages using a remote browser.",
		Long: `pdfcapture drives a remote headless browser to a landing page, clicks
the most likely download control and returns the PDF the page serves. The
file is optionally relayed to Google Drive, GCS, S3 or local storage.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newServeCmd(), newCaptureCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp adapts fn into a RunE that closes the App however fn returns.
func withApp(fn func(cmd *cobra.Command, args []string, app App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := appInstance.Close(context.WithoutCancel(cmd.Context())); cerr != nil && err == nil {
				err = fmt.Errorf("close application: %w", cerr)
			}
		}()
		return fn(cmd, args, appInstance)
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
