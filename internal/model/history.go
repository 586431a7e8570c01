package model

import "time"

// HistoryExam is the exam summary embedded in a history entry.
type HistoryExam struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

// Course is a course reference attached to a completed attempt.
type Course struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ExamHistoryItem is one past or current attempt of the applicant.
type ExamHistoryItem struct {
	UUID                string        `json:"uuid" validate:"required"`
	Exam                HistoryExam   `json:"exam"`
	Status              AttemptStatus `json:"status"`
	Score               *Decimal      `json:"score"`
	RecommendationScore *Decimal      `json:"recommendation_score"`
	RecommendedCourse   *Course       `json:"recommended_course"`
	StartedAt           *time.Time    `json:"started_at"`
	CompletedAt         *time.Time    `json:"completed_at"`
	ExamAttemptNumber   int           `json:"exam_attempt_number"`
	TotalQuestions      int           `json:"total_questions"`
	AttemptedQuestions  int           `json:"attempted_questions"`
	CorrectAnswers      int           `json:"correct_answers"`
	Accuracy            *Decimal      `json:"accuracy"`
}
