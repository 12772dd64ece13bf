package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"studynudge/internal/config"
	"studynudge/internal/delivery"
	"studynudge/internal/handlers"
	"studynudge/internal/queue"
	"studynudge/internal/service"
	"studynudge/internal/storage"
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

	var (
		recordStore storage.RecordStore
		prefStore   storage.PreferenceStore
		nudgeStore  storage.NudgeStore
	)
	switch cfg.Storage.Driver {
	case "memory":
		recordStore = storage.NewMemoryRecordStore()
		prefStore = storage.NewMemoryPreferenceStore()
		nudgeStore = storage.NewMemoryNudgeStore()
		logrus.Warn("using in-memory storage, state is lost on restart")
	default:
		rdb, err := storage.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logrus.WithError(err).Fatal("failed to connect to redis")
		}
		recordStore = rdb.Records()
		prefStore = rdb.Preferences()
		nudgeStore = rdb.Nudges()
	}

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
		logrus.Warn("postgres disabled, reminders are kept in memory")
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

	notifyHandler := handlers.NewNotifyHandler(notifications)
	prefsHandler := handlers.NewPreferencesHandler(preferences)
	nudgesHandler := handlers.NewNudgesHandler(nudges)
	remindersHandler := handlers.NewRemindersHandler(reminders)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", notifyHandler.Schedule)
			r.Post("/send", notifyHandler.Send)
			r.Get("/", notifyHandler.List)
			r.Get("/summary", notifyHandler.Summary)
			r.Get("/{id}", notifyHandler.Get)
			r.Delete("/{id}", notifyHandler.Cancel)
			r.Patch("/{id}/read", notifyHandler.MarkRead)
			r.Post("/{id}/delivered", notifyHandler.MarkDelivered)
			r.Post("/{id}/response", notifyHandler.Response)
			r.Post("/{id}/archive", notifyHandler.Archive)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Get("/", prefsHandler.Get)
			r.Patch("/", prefsHandler.Patch)
		})

		r.Route("/nudges", func(r chi.Router) {
			r.Get("/", nudgesHandler.List)
			r.Post("/seed", nudgesHandler.Seed)
			r.Post("/trigger", nudgesHandler.Trigger)
			r.Post("/{id}/feedback", nudgesHandler.Feedback)
			r.Delete("/{id}", nudgesHandler.Deactivate)
		})

		r.Route("/reminders", func(r chi.Router) {
			r.Post("/", remindersHandler.Create)
			r.Get("/", remindersHandler.List)
			r.Get("/{id}", remindersHandler.Get)
			r.Delete("/{id}", remindersHandler.Delete)
			r.Post("/{id}/snooze", remindersHandler.Snooze)
			r.Post("/{id}/complete", remindersHandler.Complete)
		})

		r.Route("/permissions", func(r chi.Router) {
			r.Get("/", notifyHandler.PermissionStatus)
			r.Post("/request", notifyHandler.RequestPermission)
		})
	})

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/metrics", notifyHandler.Metrics)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("api server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	<-stop
	logrus.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("graceful shutdown failed")
	}
}
