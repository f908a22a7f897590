package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"congressus-cache/internal/app"
	"congressus-cache/internal/config"
	"congressus-cache/internal/kafka"
	"congressus-cache/internal/logger"
	"congressus-cache/internal/models"
)

func main() {
	var (
		refresh = pflag.BoolP("refresh", "r", false, "force a full events refresh from Congressus")
		collect = pflag.StringSlice("collect", nil, "event ids whose ticket details should be collected")
		follow  = pflag.Bool("follow", false, "keep running and log check-ins announced on the presence topic")
		group   = pflag.String("group", "congressus-cache-sync", "kafka consumer group used with --follow")
	)
	pflag.Parse()

	log := logger.NewLogger("congressus-cache-sync")
	defer log.Close()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("APP", err.Error())
	}
	defer a.Close()

	events, err := a.Service.ListEvents(ctx, *refresh)
	if err != nil {
		log.Fatal("EVENTS", err.Error())
	}
	log.Info("EVENTS", fmt.Sprintf("Total events fetched: %d", len(events)))

	for _, eventID := range *collect {
		result, err := a.Service.CollectTickets(ctx, eventID)
		if err != nil {
			log.Error("TICKETS", fmt.Sprintf("Collecting tickets for event %s failed: %v", eventID, err))
			continue
		}
		log.Info("TICKETS", fmt.Sprintf("%s Refreshed %d tickets.", result.Message, result.Refreshed))
	}

	if !*follow {
		return
	}
	if !cfg.Kafka.Enabled {
		log.Fatal("KAFKA", "--follow needs KAFKA_ENABLED=true")
	}

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, *group, log)
	defer consumer.Close()

	// The audit trail is read-only; the cache is never invalidated from the topic.
	err = consumer.Start(ctx, func(ctx context.Context, change models.PresenceChanged) error {
		log.Info("TICKETS", fmt.Sprintf("Event %s participation %s set to %s at %s (%d/%d present)",
			change.EventID, change.ParticipationID, change.StatusPresence,
			change.ChangedAt.Format(time.RFC3339), change.PresenceCount, change.Tickets))
		return nil
	})
	if err != nil {
		log.Error("KAFKA", err.Error())
	}
}
