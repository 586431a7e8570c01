package model

// SelectAnswerRequest stages a choice for a question.
type SelectAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	ChoiceID   string `json:"choice_id" binding:"required"`
}

// GoToQuestionRequest moves the cursor to a question index.
type GoToQuestionRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}
