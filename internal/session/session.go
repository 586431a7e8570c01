// Package session implements the lifecycle of one in-progress exam attempt:
// the loaded question set, the cursor, staged answers, the countdown and the
// tab-switch integrity signal.
//
// The session never starts its own clock. The one-second tick and the
// page-visibility signal are delivered by the caller through DecrementTimer
// and IncrementTabSwitch.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/model"
)

// ExamTransport performs the network calls the session depends on. LoadExam
// takes the exam id; the calls that follow take the uuid returned by LoadExam.
type ExamTransport interface {
	LoadExam(ctx context.Context, examID string) (*model.TakeExamResponse, error)
	SubmitAnswer(ctx context.Context, takeID string, req model.SubmitAnswerRequest) (*model.SubmitAnswerResponse, error)
	CompleteExam(ctx context.Context, takeID string) (*model.CompleteExamResponse, error)
	FetchHistoryDetail(ctx context.Context, attemptID string) (*model.ExamHistoryItem, error)
	FetchProgress(ctx context.Context, takeID string) (*model.ExamProgress, error)
}

// State is the lifecycle state of a session.
type State string

const (
	StateUnloaded  State = "UNLOADED"
	StateLoaded    State = "LOADED"
	StateCompleted State = "COMPLETED"
)

// ErrSuperseded is returned by a network operation whose response arrived
// after the session was reloaded or reset. The response is discarded.
var ErrSuperseded = errors.New("session: operation superseded by a newer load")

// ExamSession owns one exam attempt. It is safe for concurrent use; the
// internal lock is never held across a transport call, so signals arriving
// while a request is in flight apply to the pre-response state.
type ExamSession struct {
	transport ExamTransport
	log       zerolog.Logger
	now       func() time.Time

	mu sync.Mutex
	// generation increments on every load and reset so late responses can be dropped.
	generation uint64
	state      State

	examID          string
	takeID          string
	title           string
	durationMinutes int
	questions       []model.Question
	currentIndex    int
	staged          map[string]string
	attempted       int
	totalQuestions  int
	remaining       int
	tabSwitches     int
	questionStart   time.Time
	result          *model.CompletionResult

	submitting bool
	completing bool
	lastErr    error
}

// Option configures an ExamSession.
type Option func(*ExamSession)

// WithClock overrides the wall clock used for timing.
func WithClock(now func() time.Time) Option {
	return func(s *ExamSession) { s.now = now }
}

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *ExamSession) { s.log = log.With().Str("component", "exam_session").Logger() }
}

// New creates an unloaded session backed by transport.
func New(transport ExamTransport, opts ...Option) *ExamSession {
	s := &ExamSession{
		transport: transport,
		log:       zerolog.Nop(),
		now:       time.Now,
		state:     StateUnloaded,
		staged:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.questionStart = s.now()
	return s
}

// LoadExam fetches the exam and (re)initializes the session. On failure the
// session is left unloaded; nothing from a previous load is kept.
func (s *ExamSession) LoadExam(ctx context.Context, examID string) error {
	const op = "load exam"
	if examID == "" {
		return s.fail(op, examerr.New(examerr.KindValidation, op, "exam id is required"))
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.lastErr = nil
	s.mu.Unlock()

	data, err := s.transport.LoadExam(ctx, examID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return ErrSuperseded
	}
	if err != nil {
		s.clearLocked()
		s.recordLocked(op, examID, err)
		return err
	}

	now := s.now()
	s.clearLocked()
	s.state = StateLoaded
	s.examID = examID
	s.takeID = data.UUID
	if s.takeID == "" {
		s.takeID = examID
	}
	s.title = data.ExamDetails.Title
	s.durationMinutes = data.ExamDetails.DurationMinutes
	s.questions = append([]model.Question(nil), data.Questions...)
	s.attempted = data.AttemptedQuestions
	s.totalQuestions = data.TotalQuestions
	if s.totalQuestions == 0 {
		s.totalQuestions = len(s.questions)
	}
	s.remaining = remainingSeconds(data.StartedAt, data.ExamDetails.DurationMinutes, now)
	s.questionStart = now

	s.log.Info().
		Str("exam_id", examID).
		Int("questions", len(s.questions)).
		Int("attempted", s.attempted).
		Int("remaining_seconds", s.remaining).
		Msg("Exam loaded")
	return nil
}

// Reset drops all state and returns the session to UNLOADED. Responses of
// requests still in flight are discarded.
func (s *ExamSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.clearLocked()
	s.lastErr = nil
}

// Resume re-applies a saved snapshot onto a freshly loaded session. Answers
// for unknown questions are dropped and an out-of-range index is ignored.
// The tab-switch count only ever grows. It returns the number of answers applied.
func (s *ExamSession) Resume(answers map[string]string, index, tabSwitches int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoaded {
		return 0
	}

	applied := 0
	for qid, cid := range answers {
		if cid == "" || s.questionIndexLocked(qid) < 0 {
			continue
		}
		s.staged[qid] = cid
		applied++
	}
	if index >= 0 && index < len(s.questions) {
		s.currentIndex = index
	}
	if tabSwitches > s.tabSwitches {
		s.tabSwitches = tabSwitches
	}
	return applied
}

// SyncProgress refreshes the attempted count and the timer from the server.
// The attempted count never decreases.
func (s *ExamSession) SyncProgress(ctx context.Context) (*model.ExamProgress, error) {
	const op = "sync progress"

	s.mu.Lock()
	if err := s.requireLoadedLocked(op); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	gen, examID, takeID := s.generation, s.examID, s.takeID
	s.lastErr = nil
	s.mu.Unlock()

	p, err := s.transport.FetchProgress(ctx, takeID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, ErrSuperseded
	}
	if err != nil {
		s.recordLocked(op, examID, err)
		return nil, err
	}

	if p.AttemptedQuestions > s.attempted {
		s.attempted = p.AttemptedQuestions
	}
	if p.TotalQuestions > 0 {
		s.totalQuestions = p.TotalQuestions
	}
	if !p.TimeStarted.IsZero() && s.state == StateLoaded {
		started := p.TimeStarted
		s.remaining = remainingSeconds(&started, p.DurationMinutes, s.now())
	}
	return p, nil
}

// remainingSeconds is duration minus the time elapsed since startedAt,
// floored to whole seconds and clamped at zero. A missing start counts as
// no time elapsed.
func remainingSeconds(startedAt *time.Time, durationMinutes int, now time.Time) int {
	left := time.Duration(durationMinutes) * time.Minute
	if startedAt != nil {
		left -= now.Sub(*startedAt)
	}
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

func (s *ExamSession) clearLocked() {
	s.state = StateUnloaded
	s.examID = ""
	s.takeID = ""
	s.title = ""
	s.durationMinutes = 0
	s.questions = nil
	s.currentIndex = 0
	s.staged = make(map[string]string)
	s.attempted = 0
	s.totalQuestions = 0
	s.remaining = 0
	s.tabSwitches = 0
	s.questionStart = s.now()
	s.result = nil
	s.submitting = false
	s.completing = false
}

// requireLoadedLocked rejects operations on unloaded or completed sessions.
func (s *ExamSession) requireLoadedLocked(op string) error {
	switch s.state {
	case StateUnloaded:
		return s.recordLocked(op, "", examerr.New(examerr.KindValidation, op, "no exam loaded"))
	case StateCompleted:
		return s.recordLocked(op, s.examID, examerr.New(examerr.KindAlreadyCompleted, op, "exam already completed"))
	}
	return nil
}

func (s *ExamSession) questionIndexLocked(questionID string) int {
	for i := range s.questions {
		if s.questions[i].UUID == questionID {
			return i
		}
	}
	return -1
}

func (s *ExamSession) fail(op string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(op, s.examID, err)
}

// recordLocked stores err as the session-visible error and logs it.
func (s *ExamSession) recordLocked(op, examID string, err error) error {
	s.lastErr = err
	ev := s.log.Warn()
	if examerr.KindOf(err) == examerr.KindNetwork {
		ev = s.log.Error()
	}
	ev.Err(err).Str("op", op).Str("exam_id", examID).Msg("Exam session operation failed")
	return err
}
