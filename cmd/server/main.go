package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/givepool/givepool/internal/auth"
	"github.com/givepool/givepool/internal/journal"
	"github.com/givepool/givepool/internal/metrics"
	"github.com/givepool/givepool/internal/middleware"
	"github.com/givepool/givepool/internal/service"
	"github.com/givepool/givepool/internal/storage/sqlite"
	"github.com/givepool/givepool/internal/treasury"
	"github.com/givepool/givepool/internal/vault"
	"github.com/givepool/givepool/pkg/logging"
)

const (
	defaultPort      = "8080"
	defaultQuorumBps = 2000 // a fifth of all credit ever minted
	tokenTTL         = 24 * time.Hour
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logging.Setup()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	dbPath := getEnv("DB_PATH", "./data/givepool.db")
	journalPath := getEnv("JOURNAL_PATH", "./data/journal.db")
	poolID := getEnv("POOL_ID", "givepool")
	adminEmail := os.Getenv("ADMIN_EMAIL")

	epochDuration := treasury.DefaultEpochDuration
	if raw := os.Getenv("EPOCH_DURATION"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			slog.Error("invalid EPOCH_DURATION", "value", raw, "error", err)
			os.Exit(1)
		}
		epochDuration = d
	}

	quorumBps := int64(defaultQuorumBps)
	if raw := os.Getenv("QUORUM_BPS"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > 10000 {
			slog.Error("invalid QUORUM_BPS", "value", raw, "error", err)
			os.Exit(1)
		}
		quorumBps = n
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("storage initialized", "database", dbPath)

	events, err := journal.Open(journalPath)
	if err != nil {
		slog.Error("failed to open audit journal", "error", err)
		os.Exit(1)
	}
	defer events.Close()
	slog.Info("audit journal opened", "path", journalPath)

	registry := vault.NewRegistry()
	for _, name := range strings.Split(os.Getenv("BENEFICIARIES"), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := registry.Register(name); err != nil {
			slog.Error("failed to register beneficiary", "name", name, "error", err)
			os.Exit(1)
		}
		slog.Info("beneficiary registered", "name", name)
	}

	engine := treasury.New(treasury.Config{
		PoolID:        poolID,
		Registry:      registry,
		Converter:     vault.NewConverter(registry),
		Events:        events,
		EpochDuration: epochDuration,
	})
	pool := vault.NewPool(poolID, engine)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	jwtManager := auth.NewJWTManager(jwtSecret, tokenTTL)
	authenticator := auth.NewPasswordAuthenticator(store, adminEmail)

	grantsSvc := service.NewGrantsService(registry, quorumBps, events, nil, slog.Default())
	treasurySvc := service.NewTreasuryService(pool, engine, registry, store, events, grantsSvc, m, slog.Default())
	authSvc := service.NewAuthService(authenticator, jwtManager, slog.Default())

	mux := service.NewRouter(service.Deps{
		Auth:     authSvc,
		Treasury: treasurySvc,
		Grants:   grantsSvc,
		JWT:      jwtManager,
		Metrics:  m,
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	handler := middleware.Logging(middleware.CORS(mux))
	h2cHandler := h2c.NewHandler(handler, &http2.Server{})

	addr := fmt.Sprintf(":%s", getEnv("PORT", defaultPort))
	slog.Info("server starting", "address", addr,
		"pool_id", poolID, "epoch_duration", epochDuration, "quorum_bps", quorumBps)
	if err := http.ListenAndServe(addr, h2cHandler); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
