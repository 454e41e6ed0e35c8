package main

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/config"
	"github.com/iliyamo/cinema-live-seats/internal/database"
	"github.com/iliyamo/cinema-live-seats/internal/model"
	"github.com/iliyamo/cinema-live-seats/internal/repository"
	"github.com/iliyamo/cinema-live-seats/internal/service"
)

type stores struct {
	shows        service.ShowReader
	reservations service.ReservationStore
	close        func()
}

// openStores builds the show and reservation stores for STORE_DRIVER.
func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		shows := repository.NewMemoryShowRepo()
		if cfg.SeedDemo {
			if err := seedDemoShow(ctx, shows, log); err != nil {
				return nil, err
			}
		}
		log.Warn("using in-memory store; reservations are lost on restart")
		return &stores{
			shows:        shows,
			reservations: repository.NewMemoryReservationRepo(),
			close:        func() {},
		}, nil
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, err
	}
	if cfg.DBMigrate {
		if err := database.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("database migrations applied")
	}
	return &stores{
		shows:        repository.NewShowRepo(db),
		reservations: repository.NewReservationRepo(db),
		close:        func() { closeDB(db, log) },
	}, nil
}

func closeDB(db *sqlx.DB, log *zap.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("closing database", zap.Error(err))
	}
}

// seedDemoShow creates show 1 so a local run has something to book.
func seedDemoShow(ctx context.Context, shows *repository.MemoryShowRepo, log *zap.Logger) error {
	show := &model.Show{
		ID:         1,
		ScreenID:   1,
		Title:      "Demo showing",
		StartsAt:   time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour),
		PriceCents: 300,
	}
	if err := shows.Create(ctx, show); err != nil {
		return err
	}
	log.Info("seeded demo show", zap.Uint64("show_id", show.ID), zap.Uint32("price_cents", show.PriceCents))
	return nil
}
