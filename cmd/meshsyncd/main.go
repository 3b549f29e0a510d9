// Command meshsyncd runs one peer node of the Merkle record-sync
// network: a websocket transport, the sync orchestrator, and the
// supporting Postgres/Redis/object-storage services, following the
// cmd/*-service/cmd/main.go shape of the reference server (LoadConfig,
// wire handlers onto a mux.Router, ListenAndServe in a goroutine,
// block on SIGINT/SIGTERM, graceful Shutdown).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kindlyrobotics/meshsync/internal/archive"
	"github.com/kindlyrobotics/meshsync/internal/config"
	"github.com/kindlyrobotics/meshsync/internal/db"
	"github.com/kindlyrobotics/meshsync/internal/hashindex"
	"github.com/kindlyrobotics/meshsync/internal/keymgr"
	"github.com/kindlyrobotics/meshsync/internal/merkle"
	"github.com/kindlyrobotics/meshsync/internal/metrics"
	"github.com/kindlyrobotics/meshsync/internal/moderation"
	"github.com/kindlyrobotics/meshsync/internal/orchestrator"
	"github.com/kindlyrobotics/meshsync/internal/ratelimit"
	"github.com/kindlyrobotics/meshsync/internal/recordstore"
	"github.com/kindlyrobotics/meshsync/internal/transport/wsroom"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	conns, err := db.NewDB(cfg)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer conns.Close()

	if err := conns.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	store := recordstore.NewPostgresStore(conns.Postgres)
	index := hashindex.New()
	defer index.Close()
	if err := rebuildIndexFromStore(store, index); err != nil {
		log.Fatalf("rebuild hash index from store: %v", err)
	}

	cache := merkle.NewCache(index.Source())
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var opts []orchestrator.Option
	if cfg.RateLimitEnabled {
		limiter := ratelimit.NewLimiter(conns.Redis)
		opts = append(opts, orchestrator.WithRateLimiter(limiter, ratelimit.DefaultPeerSyncLimits()))
	}
	if cfg.PresenceEnabled {
		opts = append(opts, orchestrator.WithPresence(conns.Redis))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := wsroom.NewHub()
	orchestrator.New(ctx, hub, store, index, moderation.AllowAll{}, cache, m, opts...)

	keyManager := keymgr.NewManager(keymgr.NewPostgresStore(conns.Postgres))

	var archiver *archive.Archiver
	if cfg.ArchiveEnabled {
		archiver, err = archive.New(ctx, archive.Config{
			Endpoint:        cfg.ArchiveEndpoint,
			AccessKeyID:     cfg.ArchiveAccessKey,
			SecretAccessKey: cfg.ArchiveSecretKey,
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.ArchiveRegion,
			UseSSL:          cfg.ArchiveUseSSL,
		})
		if err != nil {
			log.Fatalf("connect to archive object store: %v", err)
		}
	}

	r := mux.NewRouter()
	hub.RegisterRoutes(r, cfg.WSPath)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/healthz", healthHandler(conns)).Methods("GET")
	r.HandleFunc("/session", sessionHandler(keyManager)).Methods("GET")
	if archiver != nil {
		r.HandleFunc("/snapshots", snapshotHandler(archiver, store)).Methods("POST")
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("[meshsyncd] listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[meshsyncd] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("[meshsyncd] exited")
}

// rebuildIndexFromStore seeds the in-memory hash index from every
// record already durably stored, so a restarted node's first Merkle
// root reflects prior state rather than an empty tree.
func rebuildIndexFromStore(store recordstore.Store, index *hashindex.Index) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	records, err := store.GetAll(ctx)
	if err != nil {
		return err
	}
	hashes := make(map[string]merkle.Hash, len(records))
	for id, rec := range records {
		if h, ok := merkle.HashHex(rec.Integrity.Hash); ok {
			hashes[id] = h
		}
	}
	index.Put(hashes)
	return nil
}

func healthHandler(conns *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := conns.Health(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func sessionHandler(m *keymgr.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.Load()
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sess.PublicKey))
	}
}

func snapshotHandler(a *archive.Archiver, store recordstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		records, err := store.GetAll(ctx)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
		key, err := a.PutSnapshot(ctx, time.Now(), records)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(key))
	}
}
