package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"escrow_go/internal/custody"
	"escrow_go/internal/domain"
	"escrow_go/internal/engine"
	"escrow_go/internal/infra"
	"escrow_go/internal/infra/assets"
	"escrow_go/internal/infra/feed"
	"escrow_go/internal/infra/idempotency"
	"escrow_go/internal/infra/intake"
	"escrow_go/internal/infra/storage"
	"escrow_go/internal/ledger"
	"escrow_go/internal/service"

	"github.com/redis/go-redis/v9"
)

const (
	metaDisplayUnit     = "display.unit"
	metaDisplayDecimals = "display.decimals"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Sequencer *engine.Sequencer
	Catalog   *service.CatalogService
	Feed      *feed.Hub
	Fetcher   *assets.Fetcher // nil when thumbnails are disabled
	Server    *http.Server

	redis           *redis.Client
	shutdownTracing func(context.Context) error
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config, opens the journal, replays it and wires every
// component. Nothing accepts traffic until Run.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping Escrow Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Tracing
	if b.shutdownTracing, err = infra.InitTracing(ctx, cfg); err != nil {
		return err
	}

	// 4. Initialize Storage (journal)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	if err := b.checkDisplayMeta(); err != nil {
		return err
	}
	slog.Info("✅ Journal opened")

	// 5. Ledger & Sequencer
	vault := custody.NewVault()
	seq := engine.NewSequencer(cfg.Engine.InboxSize, ledger.New(vault), vault, store, infra.GlobalMetrics)
	seq.SetVerifyInvariants(cfg.Engine.VerifyInvariants)
	b.Sequencer = seq

	// 6. Replay the journal before any traffic
	replayed, err := replayJournal(ctx, store, seq)
	if err != nil {
		return err
	}
	slog.Info("✅ Journal replayed", slog.Int("entries", replayed), slog.Uint64("seq", seq.Snapshot().Seq))

	// 7. Read side: catalog, feed, thumbnails
	b.Catalog = service.NewCatalogService(cfg.Display.Decimals, seq)
	b.Catalog.Rebuild()
	b.Feed = feed.NewHub(cfg.Display.Decimals, cfg.Display.Unit, infra.GlobalMetrics)

	if cfg.Images.URLTemplate != "" {
		b.Fetcher, err = assets.NewFetcher(cfg.Images.Dir, cfg.Images.URLTemplate, cfg.Images.Size, cfg.Images.Concurrency, b.Catalog.SetThumbnail)
		if err != nil {
			return err
		}
		slog.Info("✅ Thumbnail fetcher ready")
	}

	seq.OnCommit(b.Catalog.Enqueue)
	seq.OnCommit(b.Feed.Publish)
	if b.Fetcher != nil {
		seq.OnCommit(func(c engine.Commit) { b.Fetcher.Observe(ctx, c) })
	}

	// 8. Idempotency guard
	guard, err := b.newGuard(ctx)
	if err != nil {
		return err
	}

	// 9. HTTP intake
	b.Server = &http.Server{
		Addr: cfg.Server.Addr,
		Handler: intake.NewServer(seq, intake.Options{
			Catalog: b.Catalog,
			Guard:   guard,
			Feed:    b.Feed,
			Metrics: infra.GlobalMetrics,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// checkDisplayMeta records the display settings on first start and warns
// when a journal is reopened with different ones.
func (b *Bootstrap) checkDisplayMeta() error {
	meta, err := b.Storage.LoadMetaMap()
	if err != nil {
		return fmt.Errorf("load journal meta: %w", err)
	}

	unit := b.Config.Display.Unit
	decimals := strconv.Itoa(int(b.Config.Display.Decimals))

	if prev, ok := meta[metaDisplayUnit]; ok && prev != unit {
		slog.Warn("Display unit differs from journal", slog.String("journal", prev), slog.String("config", unit))
	}
	if prev, ok := meta[metaDisplayDecimals]; ok && prev != decimals {
		slog.Warn("Display decimals differ from journal", slog.String("journal", prev), slog.String("config", decimals))
	}

	if len(meta) == 0 {
		if err := b.Storage.SaveMeta(metaDisplayUnit, unit); err != nil {
			return err
		}
		return b.Storage.SaveMeta(metaDisplayDecimals, decimals)
	}
	return nil
}

func (b *Bootstrap) newGuard(ctx context.Context) (idempotency.Guard, error) {
	cfg := b.Config.Idempotency
	ttl := time.Duration(cfg.TTLSec) * time.Second

	switch cfg.Backend {
	case "redis":
		b.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := b.redis.Ping(pingCtx).Err(); err != nil {
			return nil, domain.NewNetworkError("redis ping", err)
		}
		slog.Info("✅ Redis idempotency guard connected", slog.String("addr", cfg.RedisAddr))
		return idempotency.NewRedisGuard(b.redis, ttl), nil
	case "none":
		return idempotency.NopGuard{}, nil
	default:
		return idempotency.NewMemoryGuard(ttl), nil
	}
}

// Run starts the sequencer and serves HTTP until ctx is cancelled, then shuts
// down in reverse order: intake first, the sequencer last.
func (b *Bootstrap) Run(ctx context.Context) error {
	seqCtx, stopSeq := context.WithCancel(context.Background())
	defer stopSeq()

	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		b.Sequencer.Run(seqCtx, b.Config.Engine.DumpPath)
	}()
	b.Catalog.StartCommitProcessor(seqCtx)
	slog.Info("✅ Sequencer started")

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("✨ Escrow ledger listening", slog.String("addr", b.Server.Addr))
		if err := b.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	slog.Info("👋 Shutting down gracefully...")
	timeout := time.Duration(b.Config.Server.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := b.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.Any("error", err))
	}
	b.Feed.Close()

	stopSeq()
	<-seqDone
	if b.Fetcher != nil {
		b.Fetcher.Wait()
	}

	b.Close(shutdownCtx)
	return runErr
}

// Close releases external resources. Safe to call after a failed Initialize.
func (b *Bootstrap) Close(ctx context.Context) {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close journal", slog.Any("error", err))
		}
	}
	if b.shutdownTracing != nil {
		if err := b.shutdownTracing(ctx); err != nil {
			slog.Error("Failed to flush traces", slog.Any("error", err))
		}
	}
}

// replayJournal rebuilds the ledger from the journal and checks that the
// replayed sequence reached the journal head.
func replayJournal(ctx context.Context, store domain.JournalRepository, seq *engine.Sequencer) (int, error) {
	entries, err := store.Entries(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}
	if err := seq.Replay(entries); err != nil {
		return 0, err
	}

	last, err := store.LastSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("read journal head: %w", err)
	}
	if got := seq.Snapshot().Seq; got != last {
		return 0, fmt.Errorf("JOURNAL_SEQ_MISMATCH: replayed to %d, journal head %d", got, last)
	}
	return len(entries), nil
}
