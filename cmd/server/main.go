package main

import (
	"context"
	"net/http"
	"time"

	"github.com/lychee-technology/extid"
	"github.com/lychee-technology/extid/factory"
	"go.uber.org/zap"
)

// Server exposes a Ledger over HTTP.
type Server struct {
	ledger extid.Ledger
	mux    *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(ledger extid.Ledger) *Server {
	return &Server{
		ledger: ledger,
		mux:    http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("POST /api/v1/systems", s.handleRegisterSystem)
	s.mux.HandleFunc("GET /api/v1/systems/{guid}", s.handleGetSystem)

	s.mux.HandleFunc("POST /api/v1/identifiers", s.handleAdd)
	s.mux.HandleFunc("PUT /api/v1/identifiers", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/v1/identifiers", s.handleRemove)
	s.mux.HandleFunc("POST /api/v1/identifiers/confirm", s.handleConfirm)
	s.mux.HandleFunc("GET /api/v1/identifiers", s.handleLookup)

	s.mux.HandleFunc("GET /api/v1/elements/{guid}/identifiers", s.handleElementIdentifiers)
	s.mux.HandleFunc("GET /api/v1/elements/{guid}/systems/{system}", s.handleGetIdentifier)
	s.mux.HandleFunc("GET /api/v1/elements/{guid}/systems/{system}/sync", s.handleCheckSync)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server on the given port
func (s *Server) Start(port string) error {
	zap.S().Infow("starting server", "port", port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	config := loadConfigFromEnv()
	if err := config.Validate(); err != nil {
		sugar.Fatalf("invalid configuration: %v", err)
	}

	var ledger extid.Ledger
	switch storage := getEnv("LEDGER_STORAGE", "postgres"); storage {
	case "memory":
		sugar.Warn("using in-memory storage; entries are lost on restart")
		ledger, err = factory.NewInMemoryLedger(config, nil)
	case "postgres":
		pool, poolErr := factory.NewPool(context.Background(), config)
		if poolErr != nil {
			sugar.Fatalf("failed to create database pool: %v", poolErr)
		}
		defer pool.Close()
		ledger, err = factory.NewLedgerWithConfig(config, pool, nil)
	default:
		sugar.Fatalf("unknown LEDGER_STORAGE %q (want postgres or memory)", storage)
	}
	if err != nil {
		sugar.Fatalf("failed to create ledger: %v", err)
	}

	server := NewServer(ledger)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// loadConfigFromEnv overlays environment variables on the default configuration.
func loadConfigFromEnv() *extid.Config {
	config := extid.DefaultConfig()

	config.Database = extid.DatabaseConfig{
		Host:            getEnv("DB_HOST", config.Database.Host),
		Port:            getEnvInt("DB_PORT", config.Database.Port),
		Database:        getEnv("DB_NAME", "extid"),
		Username:        getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		SSLMode:         getEnv("DB_SSL_MODE", config.Database.SSLMode),
		MaxConnections:  getEnvInt("DB_MAX_CONNECTIONS", config.Database.MaxConnections),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", config.Database.MaxIdleConns),
		ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SECONDS", 3600)) * time.Second,
		ConnMaxIdleTime: time.Duration(getEnvInt("DB_CONN_MAX_IDLE_TIME_SECONDS", 300)) * time.Second,
		Timeout:         time.Duration(getEnvInt("DB_TIMEOUT_SECONDS", 30)) * time.Second,
		UseIAMAuth:      getEnvBool("DB_USE_IAM_AUTH", false),
		Region:          getEnv("DB_REGION", ""),
		TableNames: extid.TableNames{
			Mappings: getEnv("MAPPING_TABLE", config.Database.TableNames.Mappings),
			Systems:  getEnv("SYSTEM_TABLE", config.Database.TableNames.Systems),
			Elements: getEnv("ELEMENT_TABLE", ""),
		},
	}

	config.Ledger.StrictCreate = getEnvBool("LEDGER_STRICT_CREATE", config.Ledger.StrictCreate)
	config.Ledger.ValidateElements = getEnvBool("LEDGER_VALIDATE_ELEMENTS", config.Database.TableNames.Elements != "")
	config.Ledger.DefaultPageSize = getEnvInt("LEDGER_DEFAULT_PAGE_SIZE", config.Ledger.DefaultPageSize)
	config.Ledger.MaxPageSize = getEnvInt("LEDGER_MAX_PAGE_SIZE", config.Ledger.MaxPageSize)
	config.Ledger.ShardCount = getEnvInt("LEDGER_SHARDS", config.Ledger.ShardCount)

	config.Elements.Timeout = time.Duration(getEnvInt("ELEMENTS_TIMEOUT_MS", int(config.Elements.Timeout/time.Millisecond))) * time.Millisecond

	return config
}
