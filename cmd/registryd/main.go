package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ClearlogHQ/clearlog/internal/announce"
	"github.com/ClearlogHQ/clearlog/internal/api"
	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/keyring"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/registry"
	"github.com/ClearlogHQ/clearlog/internal/signing"
	"github.com/ClearlogHQ/clearlog/internal/store"
	"github.com/ClearlogHQ/clearlog/pkg/interfaces"
)

// operatorKeyLabel is the keyring label of the registry operator key.
const operatorKeyLabel = "operator"

// ServerConfig holds server configuration.
type ServerConfig struct {
	Address      string        `json:"address"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`

	// Interval between checkpoint mints
	CheckpointInterval time.Duration `json:"checkpoint_interval"`

	// Paths
	KeyringPath string `json:"keyring_path"`
	BlobPath    string `json:"blob_path"`

	// Enable gossip announcements of checkpoints
	AnnounceEnabled bool `json:"announce_enabled"`
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:            "0.0.0.0",
		Port:               8080,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		CheckpointInterval: 30 * time.Second,
		KeyringPath:        "./data/keyring.json",
		BlobPath:           "./data/blobs",
	}
}

func loadConfig() *ServerConfig {
	config := DefaultServerConfig()

	if addr := os.Getenv("REGISTRYD_ADDRESS"); addr != "" {
		config.Address = addr
	}
	if portStr := os.Getenv("REGISTRYD_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			config.Port = port
		}
	}
	if intervalStr := os.Getenv("CHECKPOINT_INTERVAL"); intervalStr != "" {
		if interval, err := time.ParseDuration(intervalStr); err == nil {
			config.CheckpointInterval = interval
		}
	}
	if path := os.Getenv("KEYRING_PATH"); path != "" {
		config.KeyringPath = path
	}
	if path := os.Getenv("BLOB_PATH"); path != "" {
		config.BlobPath = path
	}
	if os.Getenv("ANNOUNCE_ENABLED") == "true" {
		config.AnnounceEnabled = true
	}

	return config
}

// operatorKey loads the operator key from the keyring, generating one on
// first startup.
func operatorKey(ring keyring.Keyring) (*signing.KeyPair, error) {
	kp, err := ring.SigningKey(operatorKeyLabel)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, err
	}

	seed := make([]byte, signing.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate operator seed: %w", err)
	}

	if err := ring.SetSigningKey(operatorKeyLabel, seed); err != nil {
		return nil, err
	}

	log.Printf("Generated new operator key %s", mustKeyID(seed))
	return ring.SigningKey(operatorKeyLabel)
}

func mustKeyID(seed []byte) signing.KeyID {
	kp, err := signing.NewKeyPairFromSeed(seed)
	if err != nil {
		return ""
	}
	return kp.Public.ID()
}

// bootstrapOperatorLog signs and submits the operator init record when
// the operator log is still empty.
func bootstrapOperatorLog(ctx context.Context, coordinator *registry.Coordinator, operator *signing.KeyPair) error {
	if coordinator.OperatorLogState().Initialized() {
		return nil
	}

	envelope, err := record.SignOperatorRecord(operator.Signer(), &record.OperatorRecord{
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorInit{HashAlgorithm: hash.AlgorithmSHA256, Key: operator.Public},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to sign operator init: %w", err)
	}

	result, err := coordinator.SubmitOperatorRecord(ctx, envelope)
	if err != nil {
		return fmt.Errorf("failed to submit operator init: %w", err)
	}

	log.Printf("Bootstrapped operator log with record %s", result.RecordID)
	return nil
}

func main() {
	config := loadConfig()
	ctx := context.Background()

	// Keyring and operator key
	ring, err := keyring.NewFileKeyring(config.KeyringPath)
	if err != nil {
		log.Fatalf("Failed to open keyring: %v", err)
	}
	defer ring.Close()

	operator, err := operatorKey(ring)
	if err != nil {
		log.Fatalf("Failed to load operator key: %v", err)
	}

	// Blob store
	blobConfig := store.DefaultConfig()
	blobConfig.FSPath = config.BlobPath
	blobs, err := store.NewFilesystemBlobStore(blobConfig)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}
	defer blobs.Close()

	// Data store and coordinator. The checkpoint timer runs here so
	// that freshly minted checkpoints can be announced.
	data, err := openDataStore()
	if err != nil {
		log.Fatalf("Failed to open data store: %v", err)
	}
	defer data.Close()

	coordinatorConfig := registry.DefaultConfig()
	coordinatorConfig.CheckpointInterval = 0

	coordinator := registry.New(coordinatorConfig, data, blobs, operator.Signer())
	if err := coordinator.Recover(ctx); err != nil {
		log.Fatalf("Failed to recover registry state: %v", err)
	}

	if err := bootstrapOperatorLog(ctx, coordinator, operator); err != nil {
		log.Fatalf("Failed to bootstrap operator log: %v", err)
	}

	// Checkpoint announcements
	var publisher interfaces.CheckpointPublisher = announce.NoopPublisher{}
	if config.AnnounceEnabled {
		announceConfig, err := announce.DefaultConfig()
		if err != nil {
			log.Fatalf("Failed to build announce config: %v", err)
		}
		p, err := announce.NewPublisher(announceConfig)
		if err != nil {
			log.Fatalf("Failed to create announcer: %v", err)
		}
		if err := p.Start(ctx); err != nil {
			log.Fatalf("Failed to start announcer: %v", err)
		}
		publisher = p
	}
	defer publisher.Close()

	service := api.NewService(coordinator, blobs)

	server := &RegistryServer{
		service:     service,
		coordinator: coordinator,
		publisher:   publisher,
		config:      config,
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Periodic checkpointing
	stopCheckpoints := make(chan struct{})
	go server.checkpointLoop(ctx, stopCheckpoints)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down registryd...")
	close(stopCheckpoints)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Registryd stopped")
}

// RegistryServer wraps the registry with the HTTP API.
type RegistryServer struct {
	service     *api.Service
	coordinator *registry.Coordinator
	publisher   interfaces.CheckpointPublisher
	config      *ServerConfig
	server      *http.Server
}

// Start starts the HTTP server.
func (s *RegistryServer) Start() error {
	router := s.setupRoutes()

	corsHandler := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handlers.CompressHandler(corsHandler.Handler(router)),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	log.Printf("Starting registryd on %s", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *RegistryServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// checkpointLoop mints and announces checkpoints periodically.
func (s *RegistryServer) checkpointLoop(ctx context.Context, stop <-chan struct{}) {
	if s.config.CheckpointInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			checkpoint, err := s.service.MintCheckpoint(ctx)
			if err != nil {
				if !errors.Is(err, registry.ErrCheckpointNotMonotonic) {
					log.Printf("Checkpoint failed: %v", err)
				}
				continue
			}

			log.Printf("Minted checkpoint at length %d", checkpoint.LogLength)

			if err := s.publisher.PublishCheckpoint(ctx, checkpoint); err != nil {
				log.Printf("Failed to announce checkpoint: %v", err)
			}

		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// setupRoutes configures HTTP routes.
func (s *RegistryServer) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Health and stats
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Record submission
	v1.HandleFunc("/package/{id}/record", s.handleSubmitPackageRecord).Methods("POST")
	v1.HandleFunc("/operator/record", s.handleSubmitOperatorRecord).Methods("POST")

	// Fetch operations
	v1.HandleFunc("/package/{id}/records", s.handleFetchPackageRecords).Methods("GET")
	v1.HandleFunc("/operator/records", s.handleFetchOperatorRecords).Methods("GET")
	v1.HandleFunc("/registry/leaves", s.handleFetchLeaves).Methods("GET")
	v1.HandleFunc("/registry/record-status", s.handleRecordStatus).Methods("GET")

	// Checkpoints
	v1.HandleFunc("/registry/checkpoint", s.handleLatestCheckpoint).Methods("GET")
	v1.HandleFunc("/registry/checkpoint", s.handleMintCheckpoint).Methods("POST")

	// Proofs
	v1.HandleFunc("/registry/prove/inclusion", s.handleProveInclusion).Methods("POST")
	v1.HandleFunc("/registry/prove/consistency", s.handleProveConsistency).Methods("POST")

	// Content
	v1.HandleFunc("/content/{digest}", s.handleUploadContent).Methods("POST")
	v1.HandleFunc("/content/{digest}", s.handleDownloadContent).Methods("GET")

	r.Use(loggingMiddleware)

	return r
}

// loggingMiddleware logs each request with its duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
