// cmd/merklekv-node is the replicating node daemon: it holds local storage,
// assigns versions to local writes, applies inbound replication events, and
// keeps the outbound outbox flowing to the pub/sub transport.
//
// Flags bind through Cobra/pflag exactly as the teacher's cmd/server does,
// but configuration beyond a handful of flags is expected to live in the
// YAML file loaded by internal/config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"merklekv/internal/api"
	"merklekv/internal/applicator"
	"merklekv/internal/command"
	"merklekv/internal/config"
	"merklekv/internal/dedup"
	"merklekv/internal/logging"
	"merklekv/internal/metrics"
	"merklekv/internal/outbox"
	"merklekv/internal/publisher"
	"merklekv/internal/replev"
	"merklekv/internal/seqclock"
	"merklekv/internal/storage"
	"merklekv/internal/transport"
)

func main() {
	var configPath, logLevel, adminAddr string
	var prettyLog bool

	root := &cobra.Command{
		Use:   "merklekv-node",
		Short: "MerkleKV replicating node daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel, adminAddr, prettyLog)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	root.Flags().StringVar(&adminAddr, "admin-addr", ":8080", "listen address for the admin/health HTTP surface")
	root.Flags().BoolVar(&prettyLog, "pretty-log", false, "human-readable console logging instead of JSON")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, logLevel, adminAddr string, prettyLog bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.NodeID, logLevel, prettyLog, os.Stderr)
	metricsSurface := metrics.NewCounters()

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	clock, err := seqclock.Open(
		filepath.Join(cfg.StoragePath, "sequence.log"),
		seqclock.WithLogger(logging.Component(log, "seqclock")),
		seqclock.WithPersistErrorHook(metricsSurface.IncSequencePersistenceErrors),
	)
	if err != nil {
		return fmt.Errorf("open sequence clock: %w", err)
	}
	defer clock.Close()

	var store storage.Backend
	var sweeper tombstoneSweeper
	if cfg.PersistenceEnabled {
		durable, err := storage.OpenDurable(filepath.Join(cfg.StoragePath, "kv"))
		if err != nil {
			return fmt.Errorf("open durable storage: %w", err)
		}
		defer durable.Close()
		store, sweeper = durable, durable
	} else {
		mem := storage.NewMemory()
		store, sweeper = mem, mem
	}

	dedupTracker := dedup.New(
		dedup.WithWindowSize(uint64(cfg.DedupWindowSize)),
		dedup.WithTTL(cfg.DedupTTL),
		dedup.WithMaxNodes(cfg.DedupMaxNodes),
	)

	ob, err := outbox.Open(
		filepath.Join(cfg.StoragePath, "outbox.json"),
		outbox.WithMaxSize(cfg.OutboxMaxSize),
		outbox.WithDropHook(metricsSurface.IncOutboxDrops),
	)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	// No concrete pub/sub client ships in this repository (spec's transport
	// is an external MQTT-like broker connection); wire a disconnected Mock
	// so the daemon starts cleanly and buffers to the outbox until a real
	// Transport is plugged in at deploy time.
	mqtt := transport.NewMock()
	mqtt.SetOnline(false)

	pub := publisher.New(mqtt, ob, metricsSurface, logging.Component(log, "publisher"), cfg.TopicPrefix)

	apl := applicator.New(store, dedupTracker, metricsSurface, logging.Component(log, "applicator"))

	if err := mqtt.Subscribe(cfg.TopicPrefix+publisher.TopicReplicationEventsSuffix, func(_ string, payload []byte) {
		ev, decodeErr := replev.Decode(payload)
		if decodeErr != nil {
			log.Warn().Err(decodeErr).Msg("node: discarding malformed replication event")
			return
		}
		apl.Apply(ev)
	}); err != nil {
		return fmt.Errorf("subscribe to replication events: %w", err)
	}

	proc := command.New(store, clock, cfg.NodeID, pub, metricsSurface, logging.Component(log, "command"))

	requestTopic := cfg.TopicPrefix + "/commands/request"
	responseTopic := cfg.TopicPrefix + "/commands/response"
	if err := mqtt.Subscribe(requestTopic, func(_ string, payload []byte) {
		var cmd command.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			log.Warn().Err(err).Msg("node: discarding malformed command")
			return
		}
		resp := proc.Execute(cmd)
		out, err := json.Marshal(resp)
		if err != nil {
			log.Error().Err(err).Msg("node: encode response")
			return
		}
		if err := mqtt.Publish(context.Background(), responseTopic, out, 1, false); err != nil {
			log.Warn().Err(err).Msg("node: publish response failed")
		}
	}); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic tombstone sweep and idle-peer dedup cleanup, per the
	// supplemented-features section: neither the teacher nor the distilled
	// spec names a retention sweeper explicitly, but both the dedup window's
	// TTL and the tombstone-retention knob in §6 are meaningless without one.
	go runMaintenanceLoop(ctx, sweeper, dedupTracker, cfg, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(logging.Component(log, "admin")), api.Recovery(logging.Component(log, "admin")))
	api.NewAdminHandler(store, ob, metricsSurface, cfg.NodeID).Register(router)

	adminSrv := &http.Server{
		Addr:         adminAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("node: admin server error")
		}
	}()

	log.Info().Str("storage_path", cfg.StoragePath).Str("admin_addr", adminAddr).Msg("node: started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("node: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("node: admin server shutdown error")
	}
	return nil
}
