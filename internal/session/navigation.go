package session

import (
	"time"

	"github.com/stemsi/exam-gateway/internal/model"
)

// NextQuestion moves to the following question. It is a no-op on the last
// question, on an unloaded session and after completion.
func (s *ExamSession) NextQuestion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(s.currentIndex + 1)
}

// PreviousQuestion moves to the preceding question.
func (s *ExamSession) PreviousQuestion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(s.currentIndex - 1)
}

// GoToQuestion jumps to index. Out-of-range indexes are ignored.
func (s *ExamSession) GoToQuestion(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(index)
}

// moveLocked restarts per-question timing on every arrival, including
// revisits and a jump to the current index.
func (s *ExamSession) moveLocked(index int) bool {
	if s.state != StateLoaded || index < 0 || index >= len(s.questions) {
		return false
	}
	s.currentIndex = index
	s.questionStart = s.now()
	return true
}

// IncrementTabSwitch records one visibility loss and returns the new count.
// Nothing is recorded on an unloaded or completed session.
func (s *ExamSession) IncrementTabSwitch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoaded {
		return s.tabSwitches
	}
	s.tabSwitches++
	return s.tabSwitches
}

// DecrementTimer consumes one second. expired is true only for the call that
// brings the remaining time from one to zero; the caller decides what to do.
func (s *ExamSession) DecrementTimer() (remaining int, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining > 0 {
		s.remaining--
		expired = s.remaining == 0
	}
	return s.remaining, expired
}

// State returns the lifecycle state.
func (s *ExamSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExamID returns the loaded exam id, or "" when unloaded.
func (s *ExamSession) ExamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.examID
}

// TakeID returns the uuid the admissions API returned on load. Submit,
// complete and progress calls are addressed to it.
func (s *ExamSession) TakeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeID
}

// CurrentIndex returns the cursor position.
func (s *ExamSession) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIndex
}

// CurrentQuestion returns the question under the cursor.
func (s *ExamSession) CurrentQuestion() (model.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.currentQuestionLocked()
	if q == nil {
		return model.Question{}, false
	}
	return *q, true
}

// Questions returns the loaded questions in server order.
func (s *ExamSession) Questions() []model.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Question(nil), s.questions...)
}

// IsFirstQuestion reports whether the cursor is at index 0.
func (s *ExamSession) IsFirstQuestion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIndex == 0
}

// IsLastQuestion reports whether the cursor is at the final question.
func (s *ExamSession) IsLastQuestion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLastLocked()
}

// Progress is the share of questions with a server-confirmed answer, in percent.
func (s *ExamSession) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

// AttemptedCount is the server-reported number of answered questions.
func (s *ExamSession) AttemptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempted
}

// TimeRemaining returns the remaining seconds.
func (s *ExamSession) TimeRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// TimeUp reports whether a loaded session has run out of time.
func (s *ExamSession) TimeUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLoaded && s.remaining == 0
}

// TabSwitchCount returns the visibility losses since the last successful submit.
func (s *ExamSession) TabSwitchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabSwitches
}

// QuestionStartedAt returns when timing of the current question began.
func (s *ExamSession) QuestionStartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionStart
}

// LastError returns the error of the most recent failed operation, if any.
func (s *ExamSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *ExamSession) currentQuestionLocked() *model.Question {
	if s.state == StateUnloaded || s.currentIndex < 0 || s.currentIndex >= len(s.questions) {
		return nil
	}
	return &s.questions[s.currentIndex]
}

func (s *ExamSession) isLastLocked() bool {
	return s.state != StateUnloaded && s.currentIndex == len(s.questions)-1
}

func (s *ExamSession) progressLocked() float64 {
	if s.state == StateUnloaded || s.totalQuestions == 0 {
		return 0
	}
	return float64(s.attempted) / float64(s.totalQuestions) * 100
}
