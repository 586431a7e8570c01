package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/history"
	"github.com/stemsi/exam-gateway/internal/model"
)

// HistoryList is the attempt list together with its summary. Stale holds
// the upstream error when the list was served from the cache instead.
type HistoryList struct {
	Items   []model.ExamHistoryItem `json:"items"`
	Summary history.Summary         `json:"summary"`
	Stale   error                   `json:"-"`
}

// HistoryDetail is one attempt, possibly served from the cache.
type HistoryDetail struct {
	Item  *model.ExamHistoryItem
	Stale error
}

type historyEntry struct {
	history  *history.ExamHistory
	lastUsed time.Time
}

// HistoryService keeps one ExamHistory per applicant. When the admissions
// API is unreachable the last successful data is served, flagged stale.
type HistoryService struct {
	transport history.Transport
	log       zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	histories map[int]*historyEntry
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(transport history.Transport, log zerolog.Logger) *HistoryService {
	return &HistoryService{
		transport: transport,
		log:       log.With().Str("component", "history_service").Logger(),
		now:       time.Now,
		histories: make(map[int]*historyEntry),
	}
}

// List refreshes the applicant's attempt list. A non-empty status keeps only
// attempts in that state; the summary always covers every attempt.
func (s *HistoryService) List(ctx context.Context, userID int, status model.AttemptStatus) (*HistoryList, error) {
	h := s.forUser(userID)
	items, err := h.Fetch(ctx)
	if err != nil {
		if !servableFromCache(err) || !h.Loaded() {
			return nil, err
		}
		s.log.Warn().Err(err).Int("user_id", userID).Msg("Serving cached exam history")
		items = h.Items()
	}
	if status != "" {
		items = h.ByStatus(status)
	}
	return &HistoryList{Items: items, Summary: h.Summary(), Stale: err}, nil
}

// Detail loads one attempt. Only attempt ids are checked here; ownership is
// enforced upstream.
func (s *HistoryService) Detail(ctx context.Context, userID int, attemptID string) (*HistoryDetail, error) {
	const op = "fetch history detail"
	if err := validateID(op, "attempt id", attemptID); err != nil {
		return nil, err
	}

	h := s.forUser(userID)
	item, err := h.FetchDetail(ctx, attemptID)
	if err == nil {
		return &HistoryDetail{Item: item}, nil
	}
	if !servableFromCache(err) {
		return nil, err
	}
	cached, ok := h.Detail(attemptID)
	if !ok {
		return nil, err
	}
	s.log.Warn().Err(err).Int("user_id", userID).Str("attempt_id", attemptID).Msg("Serving cached attempt detail")
	return &HistoryDetail{Item: cached, Stale: err}, nil
}

// EvictIdle drops the caches of applicants idle for longer than maxIdle.
func (s *HistoryService) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for userID, entry := range s.histories {
		if entry.lastUsed.After(cutoff) {
			continue
		}
		delete(s.histories, userID)
		evicted++
	}
	if evicted > 0 {
		s.log.Info().Int("count", evicted).Msg("Evicted idle history caches")
	}
	return evicted
}

// Cached returns the number of applicants with a history cache.
func (s *HistoryService) Cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}

func (s *HistoryService) forUser(userID int) *history.ExamHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.histories[userID]
	if !ok {
		entry = &historyEntry{history: history.New(s.transport, s.log.With().Int("user_id", userID).Logger())}
		s.histories[userID] = entry
	}
	entry.lastUsed = s.now()
	return entry.history
}

// servableFromCache reports whether cached data may stand in for a failed
// fetch. Only transport failures qualify; an upstream answer such as 404 is final.
func servableFromCache(err error) bool {
	return examerr.KindOf(err) == examerr.KindNetwork
}
