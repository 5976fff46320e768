package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"busbot/handler"
	"busbot/internal/config"
	"busbot/internal/integrations/messenger"
	"busbot/internal/integrations/paramstore"
	"busbot/internal/integrations/rtpi"
	"busbot/internal/repository"
	"busbot/internal/usecase"
)

// App holds the wired components shared by the Lambda entry point and the
// CLI.
type App struct {
	Handler    *handler.Handler
	Dispatcher *usecase.Dispatcher
	Transit    *rtpi.Client
	Messenger  *messenger.Client
	Secrets    *paramstore.Secrets
	// Ledger is nil unless a delivery table is configured.
	Ledger *repository.Client
}

type buildOptions struct {
	async     bool
	awsLoader func(ctx context.Context) (aws.Config, error)
}

type Option func(*buildOptions)

// WithAsyncDispatch acknowledges webhooks before handling their events. Only
// the long-running server sets it.
func WithAsyncDispatch(enabled bool) Option {
	return func(o *buildOptions) {
		o.async = enabled
	}
}

func withAWSLoader(fn func(ctx context.Context) (aws.Config, error)) Option {
	return func(o *buildOptions) {
		o.awsLoader = fn
	}
}

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// Build wires every component from cfg. AWS credentials are only resolved when
// SSM secrets or the delivery ledger are configured.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	o := buildOptions{awsLoader: loadAWSConfig}
	for _, opt := range opts {
		opt(&o)
	}

	var awsCfg aws.Config
	if cfg.UsesAWS() {
		var err error
		awsCfg, err = o.awsLoader(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	getter, prefix, err := secretGetter(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	secrets, err := paramstore.NewSecrets(getter, prefix)
	if err != nil {
		return nil, fmt.Errorf("app: secrets: %w", err)
	}

	transit := rtpi.NewClient(
		rtpi.WithBaseURL(cfg.RTPI.BaseURL),
		rtpi.WithHTTPClient(&http.Client{Timeout: cfg.RTPI.Timeout}),
	)
	sender, err := messenger.NewClient(secrets,
		messenger.WithBaseURL(cfg.Messenger.BaseURL),
		messenger.WithAPIVersion(cfg.Messenger.APIVersion),
		messenger.WithHTTPClient(&http.Client{Timeout: cfg.Messenger.Timeout}),
		messenger.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("app: messenger: %w", err)
	}

	a := &App{Transit: transit, Messenger: sender, Secrets: secrets}

	dispatchOpts := []usecase.DispatcherOption{usecase.WithLogger(log)}
	if cfg.Ledger.Table != "" {
		ledger, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Ledger.Table, cfg.Ledger.TTL)
		if err != nil {
			return nil, fmt.Errorf("app: ledger: %w", err)
		}
		a.Ledger = ledger
		dispatchOpts = append(dispatchOpts, usecase.WithLedger(ledger))
	}

	a.Dispatcher, err = usecase.NewDispatcher(transit, sender, dispatchOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: dispatcher: %w", err)
	}

	a.Handler, err = handler.NewHandler(a.Dispatcher, secrets,
		handler.WithSignatureVerification(cfg.Secrets.SignaturesEnabled()),
		handler.WithAsyncDispatch(o.async),
		handler.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("app: handler: %w", err)
	}

	log.Info("Components wired",
		"secrets", secretSourceName(cfg),
		"ledger", cfg.Ledger.Table != "",
		"verify_signatures", cfg.Secrets.SignaturesEnabled(),
		"async", o.async,
	)
	return a, nil
}

func secretGetter(cfg *config.Config, awsCfg aws.Config) (paramstore.Getter, string, error) {
	if cfg.Secrets.ParamPrefix != "" {
		client, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, "", fmt.Errorf("app: paramstore: %w", err)
		}
		return client, cfg.Secrets.ParamPrefix, nil
	}
	return paramstore.Static{
		"/" + paramstore.VerifyToken: cfg.Secrets.VerifyToken,
		"/" + paramstore.AccessToken: cfg.Secrets.AccessToken,
		"/" + paramstore.AppSecret:   cfg.Secrets.AppSecret,
	}, "", nil
}

func secretSourceName(cfg *config.Config) string {
	if cfg.Secrets.ParamPrefix != "" {
		return "ssm"
	}
	return "env"
}
