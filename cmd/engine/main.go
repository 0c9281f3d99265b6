package main

import (
	"log"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rawblock/urlscan-engine/internal/api"
	"github.com/rawblock/urlscan-engine/internal/cache"
	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/internal/db"
	"github.com/rawblock/urlscan-engine/internal/engine"
	"github.com/rawblock/urlscan-engine/internal/events"
	"github.com/rawblock/urlscan-engine/internal/metrics"
	"github.com/rawblock/urlscan-engine/internal/tombstone"
)

func main() {
	log.Println("Starting RawBlock URL Threat Scan Engine (Microservice: url-threat-analytics)...")

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("FATAL: Config load failed: %v", err)
	}
	secrets, err := config.NewSecrets(os.Getenv("URLSCAN_MASTER_KEY"))
	if err != nil {
		log.Fatalf("FATAL: Secret provider init failed: %v", err)
	}

	// ─── Optional infrastructure ────────────────────────────────────────
	// The engine degrades gracefully: without PostgreSQL there is no scan
	// history, without Redis there is no shared cache tier. Both are soft.
	// ────────────────────────────────────────────────────────────────────

	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		dbConn, err = db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persistence. Error: %v", err)
			dbConn = nil
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set, scan history disabled")
	}

	var rdb redis.UniversalClient
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
	} else {
		log.Println("REDIS_ADDR not set, running with in-process cache only")
	}

	cacheCapacity := getEnvIntOrDefault("CACHE_CAPACITY", 4096)
	cacheMgr := cache.NewManager(cacheCapacity, rdb, cfg.CacheTTLs)
	tombstones := tombstone.NewStore(dbConn)
	emitter := events.NewEmitter(cfg.Events)

	scanner := engine.New(cfg, secrets, cacheMgr, tombstones, dbConn, emitter)

	// WebSocket hub relays the scan event stream to dashboard clients.
	wsHub := api.NewHub()
	go wsHub.Run()
	go wsHub.Pump(emitter)

	metricsReg := metrics.New(emitter.SubscriberCount)

	r := api.SetupRouter(scanner, dbConn, tombstones, cacheMgr, wsHub, metricsReg)

	port := getEnvOrDefault("PORT", "5340")
	log.Printf("Engine running on :%s (API Node: url-threat-analytics)\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
