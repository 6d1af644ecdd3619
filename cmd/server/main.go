package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/adapters/codec/abicodec"
	"github.com/vncsmyrnk/qvote/internal/adapters/handler/http"
	"github.com/vncsmyrnk/qvote/internal/adapters/repository/memory"
	"github.com/vncsmyrnk/qvote/internal/adapters/repository/postgres"
	"github.com/vncsmyrnk/qvote/internal/config"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
	"github.com/vncsmyrnk/qvote/internal/core/services"
	"github.com/vncsmyrnk/qvote/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, ledger, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	rounds := services.NewRounds(repo, ledger, logger)
	if err := rounds.Load(ctx); err != nil {
		logger.Fatal("failed to load rounds", zap.Error(err))
	}

	codec, err := abicodec.NewVoteCodec()
	if err != nil {
		logger.Fatal("failed to build vote codec", zap.Error(err))
	}
	tokens, err := services.NewTokenService([]byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		logger.Fatal("failed to build token service", zap.Error(err))
	}

	roundService := services.NewRoundService(rounds)
	voteService := services.NewVoteService(rounds, codec)
	tallyService := services.NewTallyService(rounds)

	handler := http.NewHandler(
		http.NewRoundHandler(roundService),
		http.NewVoteHandler(voteService),
		http.NewTallyHandler(tallyService),
		tokens,
	)
	server := &stdhttp.Server{Addr: fmt.Sprintf("0.0.0.0:%d", cfg.Port), Handler: handler}

	if cfg.TallyInterval > 0 {
		go runPeriodicTally(ctx, tallyService, cfg.TallyInterval, logger)
	}

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("gracefully shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (ports.RoundRepository, ports.LedgerRepository, func(), error) {
	if cfg.Store == config.StoreMemory {
		repo := memory.NewRoundRepository()
		return repo, repo, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		logger.Info("migrations applied")
	}

	repo := postgres.NewRoundRepository(db)
	return repo, repo, func() { db.Close() }, nil
}

func runPeriodicTally(ctx context.Context, tally ports.TallyService, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tally.TallyOpenRounds(ctx); err != nil {
				logger.Error("periodic tally failed", zap.Error(err))
			}
		}
	}
}
