package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bountyforge/bountyforge-ledger/internal/api"
	"github.com/bountyforge/bountyforge-ledger/internal/config"
	ledgercrypto "github.com/bountyforge/bountyforge-ledger/internal/crypto"
	"github.com/bountyforge/bountyforge-ledger/internal/logging"
	"github.com/bountyforge/bountyforge-ledger/internal/service"
	"github.com/bountyforge/bountyforge-ledger/internal/storage"
	"github.com/bountyforge/bountyforge-ledger/internal/storage/boltdb"
	"github.com/bountyforge/bountyforge-ledger/internal/storage/postgres"
)

type Application struct {
	Server  *http.Server
	Store   storage.Store
	Service *service.Service
}

// OpenStore opens the backend named by storage.driver.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, postgres.Options{
			MaxConns:    cfg.Storage.MaxConns,
			MinConns:    cfg.Storage.MinConns,
			MaxAttempts: cfg.Storage.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverBolt:
		store, err := boltdb.Open(cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	signer, err := ledgercrypto.LoadSigner(cfg.Keys.SigningPrivateKeyPath, cfg.Keys.SigningPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(service.Params{
		Store:       store,
		Signer:      signer,
		ProgramID:   cfg.Ledger.ProgramID,
		ServiceName: cfg.Logging.Service,
		Version:     cfg.Logging.Version,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build ledger service: %w", err)
	}

	handler := api.NewHandler(svc, logger)
	router := api.CallerSignatureMiddleware(api.SignatureOptions{
		Require:      *cfg.Security.RequireSignedRequests,
		MaxClockSkew: time.Duration(cfg.Security.SignatureMaxSkewSeconds) * time.Second,
	})(handler.Router())
	if *cfg.Security.EnableIPAllow {
		mw, err := api.IPAllowListMiddleware(cfg.Security.TrustedCIDRs)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("configure ip allow list: %w", err)
		}
		router = mw(router)
	}
	env := logging.Environment{
		Service:     cfg.Logging.Service,
		Version:     cfg.Logging.Version,
		Commit:      cfg.Logging.Commit,
		Region:      cfg.Logging.Region,
		ProgramID:   cfg.Ledger.ProgramID.String(),
		StoreDriver: store.Driver(),
	}
	root := logging.Middleware(logger, env)(router)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Application{Server: server, Store: store, Service: svc}, nil
}

func (a *Application) Shutdown(ctx context.Context) error {
	defer a.Store.Close()
	return a.Server.Shutdown(ctx)
}
