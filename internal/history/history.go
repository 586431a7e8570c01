// Package history retrieves an applicant's past exam attempts.
package history

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/model"
)

// PassingScore is the score at or above which a completed attempt counts as passed.
const PassingScore = 70

// Transport fetches history data from the admissions API.
type Transport interface {
	FetchHistory(ctx context.Context) ([]model.ExamHistoryItem, error)
	FetchHistoryDetail(ctx context.Context, attemptID string) (*model.ExamHistoryItem, error)
}

// Summary aggregates the loaded history.
type Summary struct {
	Total        int `json:"total"`
	Completed    int `json:"completed"`
	InProgress   int `json:"in_progress"`
	NotStarted   int `json:"not_started"`
	AverageScore int `json:"average_score"`
	Passed       int `json:"passed"`
	Failed       int `json:"failed"`
}

// ExamHistory caches the last successfully fetched list and details.
// A failed fetch never clears data loaded earlier.
type ExamHistory struct {
	transport Transport
	log       zerolog.Logger

	mu      sync.Mutex
	items   []model.ExamHistoryItem
	details map[string]model.ExamHistoryItem
	lastErr error
}

// New creates an empty ExamHistory.
func New(transport Transport, log zerolog.Logger) *ExamHistory {
	return &ExamHistory{
		transport: transport,
		log:       log.With().Str("component", "exam_history").Logger(),
		details:   make(map[string]model.ExamHistoryItem),
	}
}

// Fetch reloads the attempt list.
func (h *ExamHistory) Fetch(ctx context.Context) ([]model.ExamHistoryItem, error) {
	h.begin()
	items, err := h.transport.FetchHistory(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastErr = err
		h.log.Warn().Err(err).Msg("Fetch exam history failed")
		return nil, err
	}
	if items == nil {
		items = []model.ExamHistoryItem{}
	}
	h.items = items
	return append([]model.ExamHistoryItem(nil), items...), nil
}

// FetchDetail loads one attempt and caches it.
func (h *ExamHistory) FetchDetail(ctx context.Context, attemptID string) (*model.ExamHistoryItem, error) {
	if attemptID == "" {
		err := examerr.New(examerr.KindValidation, "fetch history detail", "attempt id is required")
		h.mu.Lock()
		h.lastErr = err
		h.mu.Unlock()
		return nil, err
	}

	h.begin()
	item, err := h.transport.FetchHistoryDetail(ctx, attemptID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastErr = err
		h.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Fetch exam history detail failed")
		return nil, err
	}
	h.details[attemptID] = *item
	cp := *item
	return &cp, nil
}

func (h *ExamHistory) begin() {
	h.mu.Lock()
	h.lastErr = nil
	h.mu.Unlock()
}

// Items returns the cached list.
func (h *ExamHistory) Items() []model.ExamHistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.ExamHistoryItem(nil), h.items...)
}

// Detail returns a cached attempt detail.
func (h *ExamHistory) Detail(attemptID string) (*model.ExamHistoryItem, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	item, ok := h.details[attemptID]
	if !ok {
		return nil, false
	}
	return &item, true
}

// ByStatus returns the cached attempts with the given status.
func (h *ExamHistory) ByStatus(status model.AttemptStatus) []model.ExamHistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []model.ExamHistoryItem{}
	for _, it := range h.items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out
}

// Summary computes aggregate figures over the cached list.
func (h *ExamHistory) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	sum := Summary{Total: len(h.items)}
	var scored int
	var total float64
	for _, it := range h.items {
		switch it.Status {
		case model.AttemptStatusCompleted:
			sum.Completed++
			var score float64
			if it.Score != nil {
				score = it.Score.Float64()
				scored++
				total += score
			}
			if score >= PassingScore {
				sum.Passed++
			} else {
				sum.Failed++
			}
		case model.AttemptStatusInProgress:
			sum.InProgress++
		case model.AttemptStatusNotStarted:
			sum.NotStarted++
		}
	}
	if scored > 0 {
		sum.AverageScore = int(math.Round(total / float64(scored)))
	}
	return sum
}

// Loaded reports whether a list fetch has ever succeeded.
func (h *ExamHistory) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.items != nil
}

// LastError returns the error of the latest failed fetch.
func (h *ExamHistory) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}
