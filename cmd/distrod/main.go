package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/packforge/distro/pkg/access"
	"github.com/packforge/distro/pkg/authz"
	"github.com/packforge/distro/pkg/blobstore"
	"github.com/packforge/distro/pkg/catalog"
	"github.com/packforge/distro/pkg/config"
	"github.com/packforge/distro/pkg/database"
	"github.com/packforge/distro/pkg/finance"
	"github.com/packforge/distro/pkg/httpapi"
	"github.com/packforge/distro/pkg/importer"
	"github.com/packforge/distro/pkg/ledger"
	"github.com/packforge/distro/pkg/modcatalog"
	"github.com/packforge/distro/pkg/observability"
	"github.com/packforge/distro/pkg/payments"
	jobstore "github.com/packforge/distro/pkg/store/ledger"
	"github.com/packforge/distro/pkg/subscriptions"
	"github.com/packforge/distro/pkg/wallet"
)

func main() {
	if err := run(); err != nil {
		slog.Error("distrod exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	ctx := context.Background()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "packforge-distro",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.ObservabilityOn,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	primaryConn, err := parseConnectionConfig(cfg.DatabaseURL, database.RegionPrimary)
	if err != nil {
		return err
	}
	mrConfig := database.MultiRegionConfig{Primary: primaryConn, ReadPreference: database.ReadPrimary}
	if cfg.ReadReplicaURL != "" {
		replicaConn, err := parseConnectionConfig(cfg.ReadReplicaURL, database.RegionSecondary)
		if err != nil {
			return err
		}
		mrConfig.Secondary = &replicaConn
		mrConfig.ReadPreference = database.ReadSecondaryPreferred
	}
	dbRouter, err := database.NewMultiRegionRouter(mrConfig)
	if err != nil {
		return err
	}
	defer dbRouter.Close()
	db := dbRouter.Primary()

	blobs, err := blobstore.NewFromEnv(ctx, cfg.ObjectRoot, cfg.S3Region, cfg.S3Endpoint)
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	authzStore := authz.NewSQLStore(db)
	if err := authzStore.Init(ctx); err != nil {
		return err
	}
	authzEngine := authz.NewEngine(authzStore).WithCache(authz.NewCache(redisClient, 30*time.Second, log))

	walletStore := wallet.NewStore(db)
	if err := walletStore.Init(ctx); err != nil {
		return err
	}
	minWithdrawal := finance.NewMoney(cfg.MinimumWithdrawalMinor, cfg.WithdrawalCurrency)
	walletSvc := wallet.NewService(db, walletStore, authzEngine, minWithdrawal, cfg.CommissionRate)

	catalogStore := catalog.NewStore(db)
	if err := catalogStore.Init(ctx); err != nil {
		return err
	}
	catalogSvc := catalog.NewService(db, catalogStore, authzEngine, walletSvc, log)

	signing := payments.NewSigningKeyring([]byte(cfg.WebhookSigningSecretA + "|" + cfg.WebhookSigningSecretB))
	gwA := payments.NewGatewayAClient(cfg.GatewayABaseURL, cfg.GatewayAClientID, cfg.GatewayASecret, signing)
	gwB := payments.NewGatewayBClient(cfg.GatewayBBaseURL, cfg.GatewayBAccessToken, signing)
	registry := payments.NewRegistry([]payments.Gateway{gwA, gwB}, map[string]payments.GatewayType{}, payments.GatewayA)

	paymentsStore := payments.NewStore(db)
	if err := paymentsStore.Init(ctx); err != nil {
		return err
	}
	paymentsSvc := payments.NewService(db, paymentsStore, registry, catalogSvc, log)

	importJobs := jobstore.NewPostgresLedger(db)
	if err := importJobs.Init(ctx); err != nil {
		return err
	}

	modClient := modcatalog.NewClient(cfg.ModCatalogBaseURL, cfg.ModCatalogAPIKey, modcatalog.Config{})
	orchestrator := importer.NewOrchestrator(catalogSvc, modClient, blobs, cfg.ParallelDownloadDefault, cfg.ImportWallClockMax, log).WithJobStore(importJobs)

	subsClient := subscriptions.NewClient(cfg.SubscriptionBaseURL, cfg.SubscriptionAPIKey)
	accessResolver, err := access.NewResolver(catalogStore, authzEngine, subsClient, redisClient, log)
	if err != nil {
		return err
	}

	keyFunc := func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSigningSecret), nil
	}

	ledgerRegistry := ledger.NewRegistry(
		ledger.LedgerTypePayment, ledger.LedgerTypeWithdrawal, ledger.LedgerTypeImport, ledger.LedgerTypeAccess,
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Catalog:       catalogSvc,
		Payments:      paymentsSvc,
		Wallet:        walletSvc,
		Access:        accessResolver,
		Blobs:         blobs,
		Importer:      orchestrator,
		KeyFunc:       keyFunc,
		Log:           log,
		Observability: obs,
		Ledger:        ledgerRegistry,
		DB:            dbRouter,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCh:
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// parseConnectionConfig turns a postgres:// DSN into the
// host/port/user/password/dbname shape database.ConnectionConfig
// wants, tagging it with region so the router's health map and log
// lines can identify which connection is which.
func parseConnectionConfig(dsn string, region database.Region) (database.ConnectionConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return database.ConnectionConfig{}, fmt.Errorf("parsing database url for region %s: %w", region, err)
	}

	port := 5432
	if p := u.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}

	password, _ := u.User.Password()
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return database.ConnectionConfig{
		Host:     u.Hostname(),
		Port:     port,
		Database: strings.TrimPrefix(u.Path, "/"),
		User:     u.User.Username(),
		Password: password,
		SSLMode:  sslMode,
		Region:   region,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
