package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	attendance "congressus-cache/internal/attendance/service"
	"congressus-cache/internal/cache/db"
	"congressus-cache/internal/config"
	"congressus-cache/internal/congressus"
	"congressus-cache/internal/database"
	"congressus-cache/internal/kafka"
	"congressus-cache/internal/logger"
	"congressus-cache/internal/sse"
	"congressus-cache/internal/syncstate"
)

// App holds the wired attendance service and the connections it owns.
type App struct {
	Config   *config.Config
	Service  *attendance.AttendanceService
	CacheDB  *db.DB
	Redis    *redis.Client
	Producer *kafka.Producer
	Presence *sse.PresenceEmitter
	Logger   *logger.Logger
}

// Build opens the cache database and connects the optional Redis and Kafka
// collaborators. Redis or Kafka being unreachable is logged, not fatal.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	cacheDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	client := congressus.NewClient(cfg.Congressus, nil, log)
	svc := attendance.NewAttendanceService(cacheDB, client, log, loc)
	a := &App{Config: cfg, Service: svc, CacheDB: cacheDB, Presence: sse.NewPresenceEmitter(), Logger: log}
	publishers := attendance.Publishers{a.Presence}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Redis at %s unreachable, sync status disabled: %v", cfg.Redis.Addr, err))
			rdb.Close()
		} else {
			log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))
			a.Redis = rdb
			svc.Sync = syncstate.NewStore(rdb)
		}
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topic}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		a.Producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		publishers = append(publishers, a.Producer)
		log.Info("KAFKA", fmt.Sprintf("Publishing presence changes to %s", cfg.Kafka.Topic))
	}

	svc.Publisher = publishers
	return a, nil
}

func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.Logger.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if err := a.CacheDB.Bun.Close(); err != nil {
		a.Logger.Error("DATABASE", fmt.Sprintf("Failed to close cache database: %v", err))
	}
}
