// Command syndicate runs the banking syndicate core behind its REST/JSON
// and websocket API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentbank/syndicate/internal/api"
	"github.com/agentbank/syndicate/internal/circuitbreaker"
	"github.com/agentbank/syndicate/internal/commerce"
	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/events"
	"github.com/agentbank/syndicate/internal/metrics"
	"github.com/agentbank/syndicate/internal/persist"
	"github.com/agentbank/syndicate/internal/ports"
	"github.com/agentbank/syndicate/internal/syndicate"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg := loadConfig()
	clock := ports.SystemClock{}

	// External ports behind circuit breakers. The defaults are the
	// deterministic in-process implementations; real adapters slot in
	// behind the same interfaces.
	breakers := circuitbreaker.NewServiceBreakers()
	ledger := circuitbreaker.NewGuardedLedger(
		ports.NewSimLedger(clock, cfg.Clearing.ChainID), breakers.Ledger)
	advisor := circuitbreaker.NewGuardedAdvisor(
		ports.NewRuleAdvisor(), breakers.Advisor)
	sanctions := circuitbreaker.NewGuardedSanctions(
		ports.NewStaticSanctionsOracle(nil), breakers.Sanctions)

	var persister ports.Persister = ports.NopPersister{}
	if dsn := cfg.Persist.PostgresDSN; dsn != "" {
		pg, err := persist.Open(dsn)
		if err != nil {
			log.Fatalf("Postgres: %v", err)
		}
		defer pg.Close()
		persister = pg
	}

	bus := events.NewBus("syndicate-core")
	var emitter events.Emitter = bus
	if addr := cfg.Events.RedisAddr; addr != "" {
		redisBus, err := events.NewRedisBus(bus, addr, os.Getenv("REDIS_PASSWORD"), redisDB(), cfg.Events.RedisChannel)
		if err != nil {
			log.Fatalf("Redis event mirror: %v", err)
		}
		defer redisBus.Close()
		emitter = redisBus
	}

	core := syndicate.New(cfg, syndicate.Options{
		Clock:     clock,
		Ledger:    ledger,
		Advisor:   advisor,
		Sanctions: sanctions,
		Persister: persister,
		Emitter:   emitter,
		Metrics:   metrics.New(),
	})
	agg := commerce.New(cfg.Commerce, clock, core, emitter, core.Meters())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Flush micropayment batches that aged past the batch timeout.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := agg.FlushExpired(ctx); n > 0 {
					log.Printf("Flushed %d expired micropayment batches", n)
				}
			}
		}
	}()

	server := api.NewServer(core, agg, bus)
	server.SetBreakers(breakers)
	if err := server.Start(ctx, cfg.Server.Port); err != nil {
		log.Fatalf("Server: %v", err)
	}
}

// loadConfig reads the optional YAML file, then applies env overrides.
func loadConfig() *config.Config {
	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("Config %s: %v", path, err)
		}
		cfg = loaded
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Server.Env = env
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Persist.PostgresDSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Events.RedisAddr = addr
	}
	return cfg
}

func redisDB() int {
	db, err := strconv.Atoi(os.Getenv("REDIS_DB"))
	if err != nil {
		return 0
	}
	return db
}
