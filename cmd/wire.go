package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bnema/homiez-cli/internal/adapters/httpapi"
	"github.com/bnema/homiez-cli/internal/adapters/media"
	"github.com/bnema/homiez-cli/internal/adapters/realtime/natschat"
	"github.com/bnema/homiez-cli/internal/adapters/realtime/ws"
	tomlrepo "github.com/bnema/homiez-cli/internal/adapters/repo/toml"
	chainstore "github.com/bnema/homiez-cli/internal/adapters/secrets/chain"
	filestore "github.com/bnema/homiez-cli/internal/adapters/secrets/file"
	"github.com/bnema/homiez-cli/internal/adapters/watch"
	"github.com/bnema/homiez-cli/internal/application"
	"github.com/bnema/homiez-cli/internal/config"
	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/bnema/homiez-cli/internal/metrics"
	"github.com/bnema/homiez-cli/internal/ports"
	"github.com/bnema/homiez-cli/internal/realtime"
)

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder
	runtime *application.Runtime
	auth    *application.AuthService
	friends *application.FriendsService
	chat    *application.ChatService
	state   *tomlrepo.Repository
}

func wireApp() (*app, error) {
	v, err := config.New("")
	if err != nil {
		return nil, fmt.Errorf("wire config: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("wire config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level}))

	repo, err := tomlrepo.NewRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire state repository: %w", err)
	}

	secrets, err := wireSecretStore(cfg.State)
	if err != nil {
		return nil, err
	}

	clock := ports.SystemClock{}
	recorder := metrics.NewRecorder()
	backend := &httpapi.Client{
		BaseURL:        cfg.API.BaseURL,
		HTTPClient:     http.DefaultClient,
		RequestTimeout: cfg.API.Timeout,
	}

	rt := application.NewRuntime(application.RuntimeConfig{
		Backend:    backend,
		Connectors: wireConnectors(cfg, logger, clock),
		Clock:      clock,
		Logger:     logger,
		Metrics:    recorder,
	})
	auth := application.NewAuthService(rt, backend, repo, secrets, clock)
	backend.Tokens = auth

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: recorder,
		runtime: rt,
		auth:    auth,
		friends: application.NewFriendsService(rt, backend),
		chat:    application.NewChatService(rt, auth, cfg.App.Origin),
		state:   repo,
	}, nil
}

func wireSecretStore(cfg config.StateConfig) (ports.SecretStore, error) {
	if cfg.SecretsBackend == config.SecretsFile {
		return filestore.NewStore(cfg.SecretsDir), nil
	}
	store, err := chainstore.NewPassFirstWithFileFallback(cfg.SecretsDir)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}
	return store, nil
}

func wireConnectors(cfg config.Config, logger *slog.Logger, clock ports.Clock) []realtime.Connector {
	devices := &media.Devices{Pattern: cfg.Media.Devices, Required: cfg.Media.Required}
	video := realtime.NewVideoConnector(&ws.VideoTransport{
		URL:    cfg.Realtime.URL,
		APIKey: cfg.Realtime.APIKey,
		Logger: logger,
	}, devices)

	var chat ports.ChatTransport = &ws.ChatTransport{
		URL:    cfg.Realtime.URL,
		APIKey: cfg.Realtime.APIKey,
		Logger: logger,
	}
	if cfg.Realtime.Driver == config.DriverNATS {
		chat = &natschat.Transport{URL: cfg.Realtime.NATSURL, Logger: logger, Clock: clock}
	}

	return []realtime.Connector{realtime.NewChatConnector(chat), video}
}

// watchIdentity rebinds realtime sessions whenever another hz process logs in
// or out. The returned stop function must be called before exit.
func (a *app) watchIdentity(ctx context.Context, current domain.Identity, onChange func(domain.Identity)) (func(), error) {
	w, err := watch.NewIdentityWatcher(a.state.Path(), a.state, watch.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("watch client state: %w", err)
	}
	if err := w.Start(ctx, current); err != nil {
		_ = w.Stop()
		return nil, fmt.Errorf("watch client state: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for identity := range w.Changes() {
			a.logger.Debug("client identity changed on disk", "identity", identity.ID)
			if err := a.runtime.IdentityChanged(ctx, identity); err != nil {
				a.logger.Warn("rebind realtime sessions", "error", err)
			}
			onChange(identity)
		}
	}()

	return func() {
		_ = w.Stop()
		<-done
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.runtime.Close(ctx); err != nil {
		a.logger.Warn("close runtime", "error", err)
	}
}
