package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/vncsmyrnk/qvote/internal/adapters/repository/postgres"
	"github.com/vncsmyrnk/qvote/internal/config"
	"github.com/vncsmyrnk/qvote/internal/core/services"
	"github.com/vncsmyrnk/qvote/internal/logger"
)

// tallyjob recomputes the tally of every open round from the persisted vote
// log. Run it against a store no live server is writing to, or rely on the
// server's TALLY_INTERVAL instead.
func main() {
	dbCfg, _, err := config.LoadDatabase("tallyjob", os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("ENVIRONMENT"))
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("failed to reach database", zap.Error(err))
	}

	repo := postgres.NewRoundRepository(db)
	tallyService := services.NewTallyService(services.NewRounds(repo, repo, logger))

	// Use a timeout for the job execution to prevent it from hanging indefinitely
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger.Info("starting tally job")

	if err := tallyService.TallyOpenRounds(ctx); err != nil {
		logger.Fatal("tally job failed", zap.Error(err))
	}

	logger.Info("tally job completed")
}
