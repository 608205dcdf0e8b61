// Command authcore-server starts the authentication HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/mzrzvi/authcore/internal/config"
	"github.com/mzrzvi/authcore/internal/crypto"
	"github.com/mzrzvi/authcore/internal/limiter"
	"github.com/mzrzvi/authcore/internal/mail"
	"github.com/mzrzvi/authcore/internal/migrate"
	"github.com/mzrzvi/authcore/internal/oauth"
	"github.com/mzrzvi/authcore/internal/permission"
	"github.com/mzrzvi/authcore/internal/repository/postgres"
	grpcserver "github.com/mzrzvi/authcore/internal/server/grpc"
	"github.com/mzrzvi/authcore/internal/server/httpserver"
	"github.com/mzrzvi/authcore/internal/service"
	"github.com/mzrzvi/authcore/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// main loads configuration, runs migrations, and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc_health", cfg.GRPCHealthAddr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	// Repositories
	principalRepo := postgres.NewPrincipalRepo(db)
	linkRepo := postgres.NewLinkRepo(db)

	var lim limiter.Limiter = limiter.Noop{}
	if cfg.Limiter.MaxFails > 0 {
		lim = limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)
	}

	var mailer mail.Mailer = mail.NewLog(logger)
	if cfg.Mail.Enabled {
		mailer = mail.NewSMTP(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.From, cfg.Mail.Username, cfg.Mail.Password)
	}
	dispatcher := mail.NewDispatcher(mailer, 256, logger)
	defer dispatcher.Close()

	// Services
	hasher := crypto.NewHasher(cfg.HashConcurrency)
	issuer := token.NewIssuer([]byte(cfg.JWTKey), cfg.AccessTTL, cfg.RefreshTTL)
	principals := service.NewPrincipalService(principalRepo, hasher, permission.Default(), dispatcher, logger)
	auth := service.NewAuthService(principals, principalRepo, hasher, issuer, lim, logger)
	federated := service.NewFederatedService(exchangers(cfg, logger), principals, auth, principalRepo, linkRepo, logger)

	if cfg.Superuser.Email != "" && cfg.Superuser.Password != "" {
		p, created, err := principals.BootstrapSuperuser(ctx, cfg.Superuser.Email, cfg.Superuser.Password)
		if err != nil {
			return fmt.Errorf("bootstrap superuser: %w", err)
		}
		logger.Info("superuser ready", zap.String("id", p.ID.String()), zap.Bool("created", created))
	}

	api := httpserver.New(httpserver.Options{
		Auth:            auth,
		Principals:      principals,
		Federated:       federated,
		DB:              db,
		DefaultUserType: cfg.DefaultUserType,
		CORSOrigins:     cfg.CORSOrigins,
		Log:             logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv, hs := grpcserver.NewHealthServer(logger.Named("grpc"), cfg.Dev)
	lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go grpcserver.Watch(watchCtx, hs, db, 10*time.Second, logger.Named("health"))

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening (http)", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("listening (grpc health)", zap.String("addr", cfg.GRPCHealthAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	// Wait for stop
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	stopWatch()

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shCtx.Done():
		grpcSrv.Stop()
	}
	return runErr
}

// exchangers builds the providers that have credentials configured.
func exchangers(cfg config.Config, logger *zap.Logger) []oauth.Exchanger {
	var out []oauth.Exchanger
	google := oauth.Config{ClientID: cfg.Google.ClientID, ClientSecret: cfg.Google.ClientSecret, Timeout: cfg.OAuthTimeout}
	if google.Enabled() {
		out = append(out, oauth.NewGoogle(google, logger))
	}
	facebook := oauth.Config{ClientID: cfg.Facebook.AppID, ClientSecret: cfg.Facebook.AppSecret, Timeout: cfg.OAuthTimeout}
	if facebook.Enabled() {
		out = append(out, oauth.NewFacebook(facebook, logger))
	}
	if len(out) == 0 {
		logger.Warn("no OAuth providers configured; federated routes will answer 404")
	}
	return out
}
