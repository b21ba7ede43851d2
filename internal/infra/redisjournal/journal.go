package redisjournal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gearay/dingpiao/internal/core/domain"
	"github.com/gearay/dingpiao/internal/infra/metrics"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`

	// Retention bounds how long a task's journal survives after its last
	// write. Default 7 days.
	Retention time.Duration `yaml:"retention"`

	// MaxEntries caps the journal length per task. Default 200.
	MaxEntries int64 `yaml:"max_entries"`
}

const (
	defaultRetention  = 7 * 24 * time.Hour
	defaultMaxEntries = 200
)

// Journal appends task state snapshots to Redis, one list per task, so a
// crash or restart leaves an inspectable trail of every transition.
type Journal struct {
	rdb       *redis.Client
	retention time.Duration
	max       int64
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Journal, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	max := cfg.MaxEntries
	if max <= 0 {
		max = defaultMaxEntries
	}
	return &Journal{rdb: rdb, retention: retention, max: max}, nil
}

// Close closes the Redis connection.
func (j *Journal) Close() error {
	return j.rdb.Close()
}

func journalKey(taskID string) string {
	return fmt.Sprintf("task_journal:%s", taskID)
}

// journalEntry is one timestamped snapshot.
type journalEntry struct {
	At     time.Time     `json:"at"`
	Record domain.Record `json:"record"`
}

// Append writes one snapshot to the task's journal.
func (j *Journal) Append(ctx context.Context, rec domain.Record) error {
	entry := journalEntry{At: time.Now().UTC(), Record: rec}
	payload, err := json.Marshal(entry)
	if err != nil {
		metrics.JournalWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}

	key := journalKey(rec.ID)
	pipe := j.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -j.max, -1)
	pipe.Expire(ctx, key, j.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.JournalWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	metrics.JournalWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

// History returns the task's journal, oldest first.
func (j *Journal) History(ctx context.Context, taskID string) ([]domain.Record, error) {
	vals, err := j.rdb.LRange(ctx, journalKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	records := make([]domain.Record, 0, len(vals))
	for _, v := range vals {
		var entry journalEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode journal entry: %w", err)
		}
		records = append(records, entry.Record)
	}
	return records, nil
}

// Health checks if Redis is reachable.
func (j *Journal) Health(ctx context.Context) error {
	return j.rdb.Ping(ctx).Err()
}
