package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/routes"
	"github.com/example/ride-dispatch/internal/seq"
	"github.com/example/ride-dispatch/internal/storage"
)

type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	svc      *ride.Service
	registry presence.Registry
	rates    fare.RateTable
	wsreg    *dispatch.WSRegistry
	tokens   *dispatch.MemoryTokens
	kafka    *ingest.KafkaProducer
	mux      *mux.Router
}

// NewServer wires the dispatch core from config: Redis-backed presence,
// rates, sequence, and dedup when REDIS_ADDR is set, Postgres-backed rides
// and wallets when PG_DSN is set, memory fallbacks otherwise.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var store storage.RideStore
	var wallets storage.WalletStore
	var profiles presence.ProfileSource
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
			wallets = storage.NewPostgresWallets(ps)
			profiles = storage.NewPostgresProfiles(ps)
		} else {
			logger.Error("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
		wallets = storage.NewMemoryWallets()
	}

	var registry presence.Registry
	var rates fare.RateTable
	var counter seq.Counter
	var dedup dispatch.Dedup
	if cfg.RedisAddr != "" {
		registry = presence.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, profiles)
		rates = fare.NewRedisRates(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisRatesKey)
		counter = seq.NewRedisCounter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisSeqKey)
		dedup = dispatch.NewRedisDedup(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		registry = presence.NewMemoryRegistry(profiles)
		rates = fare.NewMemoryRates()
		counter = seq.NewMemoryCounter(0)
		dedup = dispatch.NewMemoryDedup()
	}

	wsreg := dispatch.NewWSRegistry(logger)
	tokens := dispatch.NewMemoryTokens()
	disp := dispatch.NewDispatcher(registry, wsreg, dedup, logger, cfg.DedupWindow)
	disp.Tokens = tokens
	if cfg.FCMEndpoint != "" {
		disp.Notifier = dispatch.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey)
	}

	svc := ride.NewService(store, fare.NewAuthority(rates), seq.NewGenerator(counter, cfg.RideCodePrefix), registry, disp, wsreg, wallets, logger)
	svc.CompletionDelay = cfg.CompletionDelay
	if cfg.OSRMEndpoint != "" {
		svc.Routes = routes.NewCached(routes.NewOSRMClient(cfg.OSRMEndpoint), 0)
	}
	svc.Payments = payments.NewStripeClient()

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		registry: registry,
		rates:    rates,
		wsreg:    wsreg,
		tokens:   tokens,
		kafka:    kp,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// Service exposes the ride service for background wiring (reaper, tests).
func (s *Server) Service() *ride.Service { return s.svc }

func (s *Server) Registry() presence.Registry { return s.registry }

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/fare/quote", s.handleFareQuote).Methods("POST")
	s.mux.HandleFunc("/api/v1/admin/rates", s.handleSetRate).Methods("PUT")
	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/rider/{rider_id}", s.handleRiderWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
