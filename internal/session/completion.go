package session

import (
	"context"

	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/model"
)

// CompleteExam finalizes the attempt. It succeeds at most once per session:
// any later call, and any further SelectAnswer or SubmitAnswer, fails with
// AlreadyCompleted. On failure the session stays LOADED so the call can be retried.
func (s *ExamSession) CompleteExam(ctx context.Context) (*model.CompletionResult, error) {
	const op = "complete exam"

	s.mu.Lock()
	if err := s.requireLoadedLocked(op); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.result != nil {
		err := s.recordLocked(op, s.examID, examerr.New(examerr.KindAlreadyCompleted, op, "a result already exists for this session"))
		s.mu.Unlock()
		return nil, err
	}
	if s.completing {
		err := s.recordLocked(op, s.examID, examerr.New(examerr.KindValidation, op, "completion is already in progress"))
		s.mu.Unlock()
		return nil, err
	}
	gen, examID, takeID := s.generation, s.examID, s.takeID
	s.completing = true
	s.lastErr = nil
	s.mu.Unlock()

	resp, err := s.transport.CompleteExam(ctx, takeID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, ErrSuperseded
	}
	s.completing = false
	if err != nil {
		s.recordLocked(op, examID, err)
		return nil, err
	}

	s.result = model.ResultFromCompletion(resp)
	s.state = StateCompleted

	s.log.Info().
		Str("exam_id", examID).
		Float64("score", s.result.Score).
		Int("correct", s.result.CorrectAnswers).
		Int("total", s.result.TotalQuestions).
		Msg("Exam completed")
	return cloneResult(s.result), nil
}

// FetchExamResult loads the summary of a finished attempt from history and
// exposes it as the completion result. It does not need a loaded exam. The
// result of a session completed in this process is never replaced.
func (s *ExamSession) FetchExamResult(ctx context.Context, attemptID string) (*model.CompletionResult, error) {
	const op = "fetch exam result"
	if attemptID == "" {
		return nil, s.fail(op, examerr.New(examerr.KindValidation, op, "attempt id is required"))
	}

	s.mu.Lock()
	gen := s.generation
	s.lastErr = nil
	s.mu.Unlock()

	item, err := s.transport.FetchHistoryDetail(ctx, attemptID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, ErrSuperseded
	}
	if err != nil {
		s.recordLocked(op, attemptID, err)
		return nil, err
	}

	res := model.ResultFromHistory(item)
	if s.state != StateCompleted {
		s.result = res
	}
	return cloneResult(res), nil
}

// CompletionResult returns the stored result, if any.
func (s *ExamSession) CompletionResult() (*model.CompletionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil, false
	}
	return cloneResult(s.result), true
}

// ClearCompletionResult drops a result obtained through FetchExamResult.
// The result of a completed session is immutable and is kept.
func (s *ExamSession) ClearCompletionResult() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCompleted {
		s.result = nil
	}
}

func cloneResult(r *model.CompletionResult) *model.CompletionResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.RecommendedCourse != nil {
		name := *r.RecommendedCourse
		c.RecommendedCourse = &name
	}
	return &c
}
