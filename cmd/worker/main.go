package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"studynudge/internal/config"
	"studynudge/internal/delivery"
	"studynudge/internal/events"
	"studynudge/internal/queue"
	"studynudge/internal/service"
	"studynudge/internal/storage"
	"studynudge/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if cfg.Storage.Driver == "memory" {
		logrus.Fatal("worker requires the redis storage driver to share state with the api")
	}

	rdb, err := storage.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to redis")
	}
	recordStore := rdb.Records()
	prefStore := rdb.Preferences()
	nudgeStore := rdb.Nudges()

	var reminderStore storage.ReminderStore
	if cfg.Postgres.Enabled {
		pg, err := storage.NewPostgres(storage.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
		})
		if err != nil {
			logrus.WithError(err).Fatal("failed to connect to postgres")
		}
		defer pg.Close()
		if err := pg.RunMigrations(); err != nil {
			logrus.WithError(err).Fatal("failed to run migrations")
		}
		reminderStore = pg.Reminders()
	} else {
		reminderStore = storage.NewMemoryReminderStore()
		logrus.Warn("postgres disabled, reminder sweeps only see reminders created in this process")
	}

	queueManager, err := queue.NewManager(cfg.Rabbit.URL)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to rabbitmq")
	}
	defer queueManager.Close()

	adapter := delivery.NewQueueAdapter(queueManager, cfg.Delivery.PermissionGranted)

	metrics := service.NewMetrics()
	preferences := service.NewPreferences(prefStore)
	notifications := service.NewNotifications(
		recordStore, preferences, adapter, metrics,
		time.Duration(cfg.Engine.BatchWindowMinutes)*time.Minute,
	)
	nudges := service.NewNudges(nudgeStore, preferences, notifications, metrics)
	reminders := service.NewReminders(reminderStore, notifications, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := worker.NewSweeper(
		recordStore, notifications, reminders, queueManager,
		time.Duration(cfg.Worker.SweepIntervalSeconds)*time.Second,
		cfg.Worker.SweepBatchSize,
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	processor := worker.NewProcessor(notifications, queueManager)
	if err := processor.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("failed to start processor")
	}
	defer processor.Stop()

	if cfg.Kafka.Enabled {
		consumer := events.NewConsumer(events.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, nudges)
		consumer.Start(ctx)
		defer consumer.Close()
	}

	logrus.Info("worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("shutting down worker")
	cancel()
}
