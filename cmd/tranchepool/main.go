package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"TranchePool/internal/asset"
	"TranchePool/internal/custody"
	"TranchePool/internal/lptoken"
	"TranchePool/internal/notify"
	"TranchePool/internal/observability"
	"TranchePool/internal/oracle"
	"TranchePool/internal/persistence"
	"TranchePool/internal/pool"
	"TranchePool/internal/query"
	"TranchePool/internal/server"
)

// Config holds all application configuration, loaded from environment
// variables. Postgres and NATS are optional: without a DSN the engine runs
// without snapshots, without a NATS URL hooks are no-ops.
type Config struct {
	PostgresURL   string
	NATSURL       string
	HTTPAddr      string
	MigrationsDir string

	SnapshotInterval time.Duration
	SnapshotKeep     int

	Controller     uuid.UUID
	FeeDistributor uuid.UUID
}

func DefaultConfig() Config {
	return Config{
		PostgresURL:      os.Getenv("POOL_POSTGRES_DSN"),
		NATSURL:          os.Getenv("POOL_NATS_URL"),
		HTTPAddr:         envOrDefault("POOL_HTTP_ADDR", ":8080"),
		MigrationsDir:    envOrDefault("POOL_MIGRATIONS_DIR", "migrations"),
		SnapshotInterval: time.Duration(envIntOrDefault("POOL_SNAPSHOT_INTERVAL_SEC", 300)) * time.Second,
		SnapshotKeep:     envIntOrDefault("POOL_SNAPSHOT_KEEP", 5),
		Controller:       envUUIDOrNew("POOL_CONTROLLER_ID"),
		FeeDistributor:   envUUIDOrNew("POOL_FEE_DISTRIBUTOR_ID"),
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("tranche pool starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Market configuration ---
	reg := asset.NewRegistry()
	for _, t := range []asset.Token{
		{Symbol: "BTC", Decimals: 8},
		{Symbol: "ETH", Decimals: 18},
		{Symbol: "USDT", Decimals: 6, IsStable: true},
		{Symbol: "USDC", Decimals: 6, IsStable: true},
	} {
		if err := reg.Add(t); err != nil {
			log.Fatal().Err(err).Str("token", t.Symbol).Msg("register token")
		}
	}

	feed := oracle.NewFixedFeed()
	cust := custody.NewMemory()

	params := pool.DefaultParams()
	params.Controller = cfg.Controller
	params.FeeDistributor = cfg.FeeDistributor
	params.TargetWeights = map[string]*big.Int{
		"BTC":  big.NewInt(25),
		"ETH":  big.NewInt(25),
		"USDT": big.NewInt(30),
		"USDC": big.NewInt(20),
	}
	params.TotalWeight = big.NewInt(100)

	opts := []pool.Option{pool.WithMetrics(metrics)}

	// --- NATS hook (optional) ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			log.Fatal().Err(err).Msg("jetstream init")
		}
		if err := notify.EnsureStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure event stream")
		}
		opts = append(opts, pool.WithHook(notify.NewNATSHook(js, observability.NewLogger("notify"))))
		log.Info().Str("url", cfg.NATSURL).Msg("nats connected")
	}

	p := pool.New(reg, feed, cust, params, observability.NewLogger("pool"), opts...)

	// --- Tranches ---
	trancheNames := []string{"senior", "mezzanine", "junior"}
	riskWeights := map[string][]int64{
		"BTC": {1, 2, 5},
		"ETH": {1, 2, 5},
	}
	for _, name := range trancheNames {
		idx, err := p.AddTranche(cfg.Controller, name, lptoken.NewMemory())
		if err != nil {
			log.Fatal().Err(err).Str("tranche", name).Msg("add tranche")
		}
		for tok, weights := range riskWeights {
			if err := p.SetRiskFactor(cfg.Controller, idx, tok, big.NewInt(weights[idx])); err != nil {
				log.Fatal().Err(err).Str("tranche", name).Str("token", tok).Msg("set risk factor")
			}
		}
	}

	// --- Postgres snapshots (optional) ---
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		log.Info().Msg("postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}

		store := persistence.NewSnapshotStore(db)
		snap, err := store.LoadLatest(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("load snapshot")
		}
		if snap != nil {
			if err := p.Restore(snap); err != nil {
				log.Fatal().Err(err).Msg("restore snapshot")
			}
			log.Info().Time("created_at", snap.CreatedAt).Msg("state restored from snapshot")
		} else {
			log.Info().Msg("no snapshot found, cold start")
		}

		worker := persistence.NewSnapshotWorker(
			p, store, cfg.SnapshotInterval, cfg.SnapshotKeep,
			observability.NewLogger("snapshot"), metrics,
		)
		go worker.Run(ctx)
	}

	// --- HTTP query API ---
	svc := query.NewService(p, metrics)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, svc, healthChecker, observability.NewLogger("http"))

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	healthChecker.SetReady(true)
	log.Info().Str("http_addr", cfg.HTTPAddr).Msg("tranche pool ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
		cancel()
	}

	log.Info().Msg("tranche pool stopped")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}

func envUUIDOrNew(key string) uuid.UUID {
	if v := os.Getenv(key); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	}
	return uuid.New()
}
