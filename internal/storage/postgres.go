package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"studynudge/internal/models"
)

// PostgresConfig holds the connection settings for the reminder database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Postgres owns the sql.DB handle behind the reminder store.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logrus.WithField("host", cfg.Host).Info("connected to postgres")

	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// RunMigrations creates the reminder schema if it does not exist yet.
func (p *Postgres) RunMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			title         TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			scheduled_for TIMESTAMPTZ NOT NULL,
			recurrence    TEXT NOT NULL DEFAULT 'none',
			snooze_count  INT NOT NULL DEFAULT 0,
			max_snoozes   INT NOT NULL DEFAULT 3,
			is_active     BOOLEAN NOT NULL DEFAULT TRUE,
			completed_at  TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_user_id ON reminders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(scheduled_for) WHERE is_active = TRUE`,
	}

	for _, migration := range migrations {
		if _, err := p.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	logrus.Info("reminder migrations completed")
	return nil
}

// Reminders returns the reminder store backed by this connection.
func (p *Postgres) Reminders() *PostgresReminderStore {
	return &PostgresReminderStore{db: p.db}
}

type PostgresReminderStore struct {
	db *sql.DB
}

func (s *PostgresReminderStore) Create(ctx context.Context, reminder *models.Reminder) error {
	query := `
		INSERT INTO reminders (id, user_id, title, description, scheduled_for,
			recurrence, snooze_count, max_snoozes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		reminder.ID, reminder.UserID, reminder.Title, reminder.Description,
		reminder.ScheduledFor, reminder.Recurrence, reminder.SnoozeCount,
		reminder.MaxSnoozes, reminder.IsActive, reminder.CreatedAt, reminder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

func (s *PostgresReminderStore) Get(ctx context.Context, id string) (*models.Reminder, error) {
	query := `
		SELECT id, user_id, title, description, scheduled_for, recurrence,
			snooze_count, max_snoozes, is_active, completed_at, created_at, updated_at
		FROM reminders WHERE id = $1`

	reminder, err := scanReminder(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return reminder, nil
}

func (s *PostgresReminderStore) ListByUser(ctx context.Context, userID string) ([]*models.Reminder, error) {
	query := `
		SELECT id, user_id, title, description, scheduled_for, recurrence,
			snooze_count, max_snoozes, is_active, completed_at, created_at, updated_at
		FROM reminders WHERE user_id = $1 ORDER BY scheduled_for ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	return collectReminders(rows)
}

func (s *PostgresReminderStore) Update(ctx context.Context, reminder *models.Reminder) error {
	query := `
		UPDATE reminders
		SET title = $2, description = $3, scheduled_for = $4, recurrence = $5,
			snooze_count = $6, max_snoozes = $7, is_active = $8, completed_at = $9,
			updated_at = $10
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		reminder.ID, reminder.Title, reminder.Description, reminder.ScheduledFor,
		reminder.Recurrence, reminder.SnoozeCount, reminder.MaxSnoozes,
		reminder.IsActive, nullTime(reminder.CompletedAt), reminder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresReminderStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresReminderStore) Due(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	query := `
		SELECT id, user_id, title, description, scheduled_for, recurrence,
			snooze_count, max_snoozes, is_active, completed_at, created_at, updated_at
		FROM reminders
		WHERE is_active = TRUE AND completed_at IS NULL AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2`

	// LIMIT NULL means no cap.
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.db.QueryContext(ctx, query, now, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	defer rows.Close()

	return collectReminders(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	var reminder models.Reminder
	var completedAt sql.NullTime

	err := row.Scan(
		&reminder.ID, &reminder.UserID, &reminder.Title, &reminder.Description,
		&reminder.ScheduledFor, &reminder.Recurrence, &reminder.SnoozeCount,
		&reminder.MaxSnoozes, &reminder.IsActive, &completedAt,
		&reminder.CreatedAt, &reminder.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		reminder.CompletedAt = &completedAt.Time
	}
	return &reminder, nil
}

func collectReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}
	return reminders, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
