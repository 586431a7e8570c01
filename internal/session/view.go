package session

import (
	"time"

	"github.com/stemsi/exam-gateway/internal/model"
)

// View is a point-in-time copy of the session including derived values.
type View struct {
	State                State                   `json:"state"`
	ExamID               string                  `json:"exam_id,omitempty"`
	TakeID               string                  `json:"take_id,omitempty"`
	Title                string                  `json:"title,omitempty"`
	DurationMinutes      int                     `json:"duration_minutes"`
	Questions            []model.Question        `json:"questions"`
	CurrentIndex         int                     `json:"current_index"`
	CurrentQuestion      *model.Question         `json:"current_question"`
	StagedAnswers        map[string]string       `json:"staged_answers"`
	AttemptedCount       int                     `json:"attempted_count"`
	TotalQuestions       int                     `json:"total_questions"`
	Progress             float64                 `json:"progress"`
	IsFirstQuestion      bool                    `json:"is_first_question"`
	IsLastQuestion       bool                    `json:"is_last_question"`
	TimeRemainingSeconds int                     `json:"time_remaining_seconds"`
	TimeUp               bool                    `json:"time_up"`
	TabSwitchCount       int                     `json:"tab_switch_count"`
	QuestionStartedAt    time.Time               `json:"question_started_at"`
	Submitting           bool                    `json:"submitting"`
	Result               *model.CompletionResult `json:"result"`
	LastError            string                  `json:"last_error,omitempty"`
}

// Snapshot returns a consistent View of the session.
func (s *ExamSession) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		State:                s.state,
		ExamID:               s.examID,
		TakeID:               s.takeID,
		Title:                s.title,
		DurationMinutes:      s.durationMinutes,
		Questions:            append([]model.Question{}, s.questions...),
		CurrentIndex:         s.currentIndex,
		StagedAnswers:        copyAnswers(s.staged),
		AttemptedCount:       s.attempted,
		TotalQuestions:       s.totalQuestions,
		Progress:             s.progressLocked(),
		IsFirstQuestion:      s.currentIndex == 0,
		IsLastQuestion:       s.isLastLocked(),
		TimeRemainingSeconds: s.remaining,
		TimeUp:               s.state == StateLoaded && s.remaining == 0,
		TabSwitchCount:       s.tabSwitches,
		QuestionStartedAt:    s.questionStart,
		Submitting:           s.submitting,
		Result:               cloneResult(s.result),
	}
	if q := s.currentQuestionLocked(); q != nil {
		cq := *q
		v.CurrentQuestion = &cq
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	return v
}
