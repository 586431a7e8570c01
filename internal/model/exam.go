package model

import (
	"time"
)

// AttemptStatus enumerates the upstream states of an applicant's exam attempt.
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "not_started"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
)

// QuestionType enumerates question kinds.
type QuestionType string

const (
	QuestionTypeMCQ       QuestionType = "mcq"
	QuestionTypeEssay     QuestionType = "essay"
	QuestionTypeTrueFalse QuestionType = "true_false"
)

// Choice is one selectable option of a question.
type Choice struct {
	UUID  string `json:"uuid" validate:"required"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question is a question as served to an applicant (no correct answer).
type Question struct {
	UUID         string       `json:"uuid" validate:"required"`
	Text         string       `json:"text"`
	QuestionType QuestionType `json:"question_type"`
	Choices      []Choice     `json:"choices" validate:"dive"`
}

// ExamDetails describes the exam being taken.
type ExamDetails struct {
	UUID            string `json:"uuid"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0"`
	TotalQuestions  int    `json:"total_questions"`
}

// TakeExamResponse is returned when an applicant starts or resumes an exam.
type TakeExamResponse struct {
	UUID               string        `json:"uuid" validate:"required"`
	ExamDetails        ExamDetails   `json:"exam_details"`
	Questions          []Question    `json:"questions" validate:"dive"`
	StartedAt          *time.Time    `json:"started_at"`
	Status             AttemptStatus `json:"status"`
	TotalQuestions     int           `json:"total_questions" validate:"min=0"`
	AttemptedQuestions int           `json:"attempted_questions" validate:"min=0"`
	ExamAttemptNumber  int           `json:"exam_attempt_number"`
}

// SubmitAnswerRequest is the payload sent when an answer is submitted.
type SubmitAnswerRequest struct {
	QuestionUUID     string `json:"question_uuid" validate:"required"`
	ChoiceUUID       string `json:"choice_uuid" validate:"required"`
	TimeSpentSeconds int    `json:"time_spent_seconds" validate:"min=0"`
	TabSwitchCount   int    `json:"tab_switch_count" validate:"min=0"`
}

// SubmitAnswerResponse is the server's acknowledgement of a submitted answer.
type SubmitAnswerResponse struct {
	Message            string `json:"message"`
	IsCorrect          bool   `json:"is_correct"`
	AttemptedQuestions int    `json:"attempted_questions" validate:"min=0"`
	TotalQuestions     int    `json:"total_questions" validate:"min=0"`
}

// CompleteExamResponse is returned when an attempt is finalized.
type CompleteExamResponse struct {
	Message           string  `json:"message"`
	Score             Decimal `json:"score"`
	CorrectAnswers    int     `json:"correct_answers"`
	TotalQuestions    int     `json:"total_questions"`
	RecommendedCourse *string `json:"recommended_course"`
}

// ExamProgress is the server-side progress of an in-flight attempt.
type ExamProgress struct {
	AttemptedQuestions int       `json:"attempted_questions" validate:"min=0"`
	TotalQuestions     int       `json:"total_questions" validate:"min=0"`
	TimeStarted        time.Time `json:"time_started"`
	DurationMinutes    int       `json:"duration_minutes" validate:"min=0"`
}

// CompletionResult is the outcome held by a session once an attempt is finished.
type CompletionResult struct {
	Message           string  `json:"message"`
	Score             float64 `json:"score"`
	CorrectAnswers    int     `json:"correct_answers"`
	TotalQuestions    int     `json:"total_questions"`
	RecommendedCourse *string `json:"recommended_course"`
}

// ResultFromCompletion converts the complete endpoint response.
func ResultFromCompletion(r *CompleteExamResponse) *CompletionResult {
	return &CompletionResult{
		Message:           r.Message,
		Score:             r.Score.Float64(),
		CorrectAnswers:    r.CorrectAnswers,
		TotalQuestions:    r.TotalQuestions,
		RecommendedCourse: r.RecommendedCourse,
	}
}

// ResultFromHistory builds a completion result from a history entry, used when
// the result page is opened directly instead of right after completion.
func ResultFromHistory(h *ExamHistoryItem) *CompletionResult {
	res := &CompletionResult{
		Message:        "Exam completed successfully",
		CorrectAnswers: h.CorrectAnswers,
		TotalQuestions: h.TotalQuestions,
	}
	if h.RecommendationScore != nil {
		res.Score = h.RecommendationScore.Float64()
	}
	if h.RecommendedCourse != nil && h.RecommendedCourse.Name != "" {
		name := h.RecommendedCourse.Name
		res.RecommendedCourse = &name
	}
	return res
}
