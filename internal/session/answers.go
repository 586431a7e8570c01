package session

import (
	"context"

	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/model"
)

// SelectAnswer stages choiceID for questionID locally. Re-selecting overwrites.
// The choice is not checked against the question's choice set.
func (s *ExamSession) SelectAnswer(questionID, choiceID string) error {
	const op = "select answer"

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoadedLocked(op); err != nil {
		return err
	}
	if choiceID == "" {
		return s.recordLocked(op, s.examID, examerr.New(examerr.KindValidation, op, "choice id is required"))
	}
	if s.questionIndexLocked(questionID) < 0 {
		return s.recordLocked(op, s.examID, examerr.New(examerr.KindValidation, op, "question is not part of this exam"))
	}
	s.staged[questionID] = choiceID
	return nil
}

// SubmitAnswer sends the staged answer of the current question. It does not
// advance the cursor. On failure the staged answer and tab-switch count are
// kept so the call can simply be repeated.
//
// The request is built from the state at call time: if the caller navigates
// before the response arrives, the response still applies to the question it
// was issued for.
func (s *ExamSession) SubmitAnswer(ctx context.Context) (*model.SubmitAnswerResponse, error) {
	const op = "submit answer"

	s.mu.Lock()
	if err := s.requireLoadedLocked(op); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.submitting {
		err := s.recordLocked(op, s.examID, examerr.New(examerr.KindValidation, op, "an answer submission is already in progress"))
		s.mu.Unlock()
		return nil, err
	}
	if s.currentIndex < 0 || s.currentIndex >= len(s.questions) {
		err := s.recordLocked(op, s.examID, examerr.New(examerr.KindValidation, op, "no question at the current position"))
		s.mu.Unlock()
		return nil, err
	}
	q := s.questions[s.currentIndex]
	choiceID, ok := s.staged[q.UUID]
	if !ok {
		err := s.recordLocked(op, s.examID, examerr.New(examerr.KindValidation, op, "please select an answer before submitting"))
		s.mu.Unlock()
		return nil, err
	}

	now := s.now()
	spent := int(now.Sub(s.questionStart).Seconds())
	if spent < 0 {
		spent = 0
	}
	req := model.SubmitAnswerRequest{
		QuestionUUID:     q.UUID,
		ChoiceUUID:       choiceID,
		TimeSpentSeconds: spent,
		TabSwitchCount:   s.tabSwitches,
	}
	gen, examID, takeID := s.generation, s.examID, s.takeID
	s.submitting = true
	s.lastErr = nil
	s.mu.Unlock()

	resp, err := s.transport.SubmitAnswer(ctx, takeID, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, ErrSuperseded
	}
	s.submitting = false
	if err != nil {
		s.recordLocked(op, examID, err)
		return nil, err
	}

	if resp.AttemptedQuestions > s.attempted {
		s.attempted = resp.AttemptedQuestions
	}
	if resp.TotalQuestions > 0 {
		s.totalQuestions = resp.TotalQuestions
	}
	// Switches recorded while the request was in flight belong to the next submission.
	s.tabSwitches -= req.TabSwitchCount
	if s.tabSwitches < 0 {
		s.tabSwitches = 0
	}
	s.questionStart = s.now()

	s.log.Debug().
		Str("exam_id", examID).
		Str("question_id", req.QuestionUUID).
		Int("time_spent", req.TimeSpentSeconds).
		Int("tab_switches", req.TabSwitchCount).
		Int("attempted", s.attempted).
		Msg("Answer submitted")
	return resp, nil
}

// StagedAnswer returns the staged choice for questionID.
func (s *ExamSession) StagedAnswer(questionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.staged[questionID]
	return c, ok
}

// StagedAnswers returns a copy of all staged answers.
func (s *ExamSession) StagedAnswers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAnswers(s.staged)
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
