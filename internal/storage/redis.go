package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	wbfredis "github.com/wb-go/wbf/redis"
	wbfretry "github.com/wb-go/wbf/retry"

	"studynudge/internal/models"
)

const (
	keyRecordPrefix = "record:"
	keyUserRecords  = "records:user:"
	keyPendingZSet  = "records:pending"
	keyPrefsPrefix  = "prefs:"
	keyNudgesPrefix = "nudges:"
)

var opRetry = wbfretry.Strategy{
	Attempts: 3,
	Delay:    100 * time.Millisecond,
	Backoff:  2,
}

// Redis wraps one connection shared by the record, preference and nudge
// stores.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) (*Redis, error) {
	wbfClient := wbfredis.New(addr, password, db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connectRetry := wbfretry.Strategy{
		Attempts: 5,
		Delay:    1 * time.Second,
		Backoff:  2,
	}

	err := wbfretry.DoContext(ctx, connectRetry, func() error {
		return wbfClient.Ping(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.WithField("addr", addr).Info("connected to redis")

	return &Redis{client: wbfClient.Client}, nil
}

func (r *Redis) Records() *RedisRecordStore         { return &RedisRecordStore{client: r.client} }
func (r *Redis) Preferences() *RedisPreferenceStore { return &RedisPreferenceStore{client: r.client} }
func (r *Redis) Nudges() *RedisNudgeStore           { return &RedisNudgeStore{client: r.client} }

// RedisRecordStore keeps each record as JSON under record:{id}, indexes ids
// per user in a set and pending deliveries in a zset scored by ScheduledFor.
type RedisRecordStore struct {
	client *redis.Client
}

func (s *RedisRecordStore) Append(ctx context.Context, record *models.NotificationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var created bool
	err = wbfretry.DoContext(ctx, opRetry, func() error {
		var setErr error
		created, setErr = s.client.SetNX(ctx, keyRecordPrefix+record.ID, data, 0).Result()
		return setErr
	})
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	if !created {
		return models.ErrDuplicateID
	}

	err = wbfretry.DoContext(ctx, opRetry, func() error {
		return s.client.SAdd(ctx, keyUserRecords+record.UserID, record.ID).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to index record for user: %w", err)
	}

	if record.Pending() {
		err = wbfretry.DoContext(ctx, opRetry, func() error {
			return s.client.ZAdd(ctx, keyPendingZSet, &redis.Z{
				Score:  float64(record.ScheduledFor.Unix()),
				Member: record.ID,
			}).Err()
		})
		if err != nil {
			return fmt.Errorf("failed to index pending record: %w", err)
		}
	}

	return nil
}

func (s *RedisRecordStore) Get(ctx context.Context, id string) (*models.NotificationRecord, error) {
	var data []byte
	err := wbfretry.DoContext(ctx, opRetry, func() error {
		result, getErr := s.client.Get(ctx, keyRecordPrefix+id).Bytes()
		if getErr != nil && !errors.Is(getErr, redis.Nil) {
			return getErr
		}
		data = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if data == nil {
		return nil, models.ErrNotFound
	}

	var record models.NotificationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

func (s *RedisRecordStore) Update(ctx context.Context, id string, fn func(*models.NotificationRecord)) (*models.NotificationRecord, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	applyGuarded(record, fn)

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	err = wbfretry.DoContext(ctx, opRetry, func() error {
		return s.client.Set(ctx, keyRecordPrefix+id, data, 0).Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	if record.Pending() {
		s.client.ZAdd(ctx, keyPendingZSet, &redis.Z{
			Score:  float64(record.ScheduledFor.Unix()),
			Member: id,
		})
	} else {
		s.client.ZRem(ctx, keyPendingZSet, id)
	}

	return record, nil
}

func (s *RedisRecordStore) Query(ctx context.Context, filter Filter) ([]*models.NotificationRecord, error) {
	ids, err := s.client.SMembers(ctx, keyUserRecords+filter.UserID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get record ids: %w", err)
	}

	records := make([]*models.NotificationRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			logrus.WithError(err).WithField("record_id", id).Warn("skipping unreadable record")
			continue
		}
		records = append(records, record)
	}
	return applyFilter(records, filter), nil
}

func (s *RedisRecordStore) Pending(ctx context.Context, due time.Time) ([]*models.NotificationRecord, error) {
	ids, err := s.client.ZRangeByScore(ctx, keyPendingZSet, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", due.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending records: %w", err)
	}

	var pending []*models.NotificationRecord
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				s.client.ZRem(ctx, keyPendingZSet, id)
				continue
			}
			logrus.WithError(err).WithField("record_id", id).Warn("skipping unreadable pending record")
			continue
		}
		if !record.Pending() {
			s.client.ZRem(ctx, keyPendingZSet, id)
			continue
		}
		pending = append(pending, record)
	}
	return pending, nil
}

func (s *RedisRecordStore) Summarize(ctx context.Context, userID string, now time.Time) (*models.Summary, error) {
	records, err := s.Query(ctx, Filter{UserID: userID, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	return summarize(records, now), nil
}

func (s *RedisRecordStore) Delete(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = wbfretry.DoContext(ctx, opRetry, func() error {
		return s.client.Del(ctx, keyRecordPrefix+id).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	s.client.SRem(ctx, keyUserRecords+record.UserID, id)
	s.client.ZRem(ctx, keyPendingZSet, id)

	return nil
}

// RedisPreferenceStore keeps one JSON blob per user under prefs:{userID}.
type RedisPreferenceStore struct {
	client *redis.Client
}

func (s *RedisPreferenceStore) Get(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	data, err := s.client.Get(ctx, keyPrefsPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	var prefs models.NotificationPreferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	return &prefs, nil
}

func (s *RedisPreferenceStore) Put(ctx context.Context, prefs *models.NotificationPreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	err = wbfretry.DoContext(ctx, opRetry, func() error {
		return s.client.Set(ctx, keyPrefsPrefix+prefs.UserID, data, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to store preferences: %w", err)
	}
	return nil
}

// RedisNudgeStore keeps a user's rules in one hash, field = rule id.
type RedisNudgeStore struct {
	client *redis.Client
}

func (s *RedisNudgeStore) Put(ctx context.Context, nudge *models.SmartNudge) error {
	data, err := json.Marshal(nudge)
	if err != nil {
		return fmt.Errorf("failed to marshal nudge: %w", err)
	}

	err = wbfretry.DoContext(ctx, opRetry, func() error {
		return s.client.HSet(ctx, keyNudgesPrefix+nudge.UserID, nudge.ID, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to store nudge: %w", err)
	}
	return nil
}

func (s *RedisNudgeStore) Get(ctx context.Context, userID, id string) (*models.SmartNudge, error) {
	data, err := s.client.HGet(ctx, keyNudgesPrefix+userID, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get nudge: %w", err)
	}

	var nudge models.SmartNudge
	if err := json.Unmarshal(data, &nudge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nudge: %w", err)
	}
	return &nudge, nil
}

func (s *RedisNudgeStore) List(ctx context.Context, userID string) ([]*models.SmartNudge, error) {
	fields, err := s.client.HGetAll(ctx, keyNudgesPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list nudges: %w", err)
	}

	rules := make([]*models.SmartNudge, 0, len(fields))
	for id, data := range fields {
		var nudge models.SmartNudge
		if err := json.Unmarshal([]byte(data), &nudge); err != nil {
			logrus.WithError(err).WithField("nudge_id", id).Warn("skipping unreadable nudge")
			continue
		}
		rules = append(rules, &nudge)
	}
	sortNudges(rules)
	return rules, nil
}

func (s *RedisNudgeStore) Delete(ctx context.Context, userID, id string) error {
	removed, err := s.client.HDel(ctx, keyNudgesPrefix+userID, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete nudge: %w", err)
	}
	if removed == 0 {
		return models.ErrNotFound
	}
	return nil
}
