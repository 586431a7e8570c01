// Package snapshot persists an in-progress exam session to Redis so an
// applicant can reload the page, or switch gateway instances, without
// losing staged answers.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
)

const (
	fieldIndex       = "index"
	fieldTabSwitches = "tab_switches"
	fieldSavedAt     = "saved_at"
)

// Snapshot is the locally held part of a session that the upstream API does
// not know about yet.
type Snapshot struct {
	Answers     map[string]string
	Index       int
	TabSwitches int
	SavedAt     time.Time
}

// Store reads and writes snapshots.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewStore creates a Store. Keys expire ttl after the latest save.
func NewStore(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "snapshot_store").Logger(),
	}
}

// Save replaces the snapshot of (userID, examID).
func (s *Store) Save(ctx context.Context, userID int, examID string, snap Snapshot) error {
	answersKey := config.CacheKey.SnapshotAnswersKey(examID, userID)
	stateKey := config.CacheKey.SnapshotStateKey(examID, userID)

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	// MULTI/EXEC so a reader never sees answers from one save and the cursor from another.
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, answersKey)
		if len(snap.Answers) > 0 {
			values := make(map[string]interface{}, len(snap.Answers))
			for qid, cid := range snap.Answers {
				values[qid] = cid
			}
			pipe.HSet(ctx, answersKey, values)
			pipe.Expire(ctx, answersKey, s.ttl)
		}
		pipe.HSet(ctx, stateKey,
			fieldIndex, snap.Index,
			fieldTabSwitches, snap.TabSwitches,
			fieldSavedAt, savedAt.Unix(),
		)
		pipe.Expire(ctx, stateKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot of (userID, examID), or nil when none is stored.
func (s *Store) Load(ctx context.Context, userID int, examID string) (*Snapshot, error) {
	answersKey := config.CacheKey.SnapshotAnswersKey(examID, userID)
	stateKey := config.CacheKey.SnapshotStateKey(examID, userID)

	pipe := s.rdb.Pipeline()
	answersCmd := pipe.HGetAll(ctx, answersKey)
	stateCmd := pipe.HGetAll(ctx, stateKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	state := stateCmd.Val()
	if len(state) == 0 {
		return nil, nil
	}

	snap := &Snapshot{Answers: answersCmd.Val()}
	if snap.Answers == nil {
		snap.Answers = map[string]string{}
	}
	snap.Index = s.intField(state, fieldIndex, examID)
	snap.TabSwitches = s.intField(state, fieldTabSwitches, examID)
	if ts := s.intField(state, fieldSavedAt, examID); ts > 0 {
		snap.SavedAt = time.Unix(int64(ts), 0)
	}
	return snap, nil
}

// Delete removes the snapshot of (userID, examID).
func (s *Store) Delete(ctx context.Context, userID int, examID string) error {
	err := s.rdb.Del(ctx,
		config.CacheKey.SnapshotAnswersKey(examID, userID),
		config.CacheKey.SnapshotStateKey(examID, userID),
	).Err()
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// intField parses a numeric hash field; a corrupt value reads as zero.
func (s *Store) intField(state map[string]string, field, examID string) int {
	raw, ok := state[field]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.log.Warn().Str("exam_id", examID).Str("field", field).Str("value", raw).Msg("Corrupt snapshot field")
		return 0
	}
	return n
}
