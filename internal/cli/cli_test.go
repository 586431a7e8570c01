package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/history"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	exam      *model.TakeExamResponse
	submits   []model.SubmitAnswerRequest
	completes int
}

func (s *stubTransport) LoadExam(context.Context, string) (*model.TakeExamResponse, error) {
	cp := *s.exam
	return &cp, nil
}

func (s *stubTransport) SubmitAnswer(_ context.Context, _ string, req model.SubmitAnswerRequest) (*model.SubmitAnswerResponse, error) {
	s.submits = append(s.submits, req)
	return &model.SubmitAnswerResponse{AttemptedQuestions: len(s.submits), TotalQuestions: len(s.exam.Questions)}, nil
}

func (s *stubTransport) CompleteExam(context.Context, string) (*model.CompleteExamResponse, error) {
	s.completes++
	course := "Informatics"
	return &model.CompleteExamResponse{
		Message:           "Exam completed successfully",
		Score:             50,
		CorrectAnswers:    1,
		TotalQuestions:    2,
		RecommendedCourse: &course,
	}, nil
}

func (s *stubTransport) FetchHistoryDetail(context.Context, string) (*model.ExamHistoryItem, error) {
	return nil, examerr.New(examerr.KindNotFound, "fetch history detail", "Not found.")
}

func (s *stubTransport) FetchProgress(context.Context, string) (*model.ExamProgress, error) {
	return &model.ExamProgress{}, nil
}

var epoch = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

func loadedRunner(t *testing.T, startedAt time.Time, minutes int) (*examRunner, *stubTransport, *bytes.Buffer) {
	t.Helper()
	st := &stubTransport{exam: &model.TakeExamResponse{
		UUID:        "attempt",
		ExamDetails: model.ExamDetails{Title: "Entrance Exam", DurationMinutes: minutes},
		Questions: []model.Question{
			{UUID: "q1", Text: "2+2?", Choices: []model.Choice{{UUID: "c1", Label: "A", Text: "3"}, {UUID: "c2", Label: "B", Text: "4"}}},
			{UUID: "q2", Text: "Largest planet?", Choices: []model.Choice{{UUID: "c3", Text: "Jupiter"}}},
		},
		StartedAt: &startedAt,
	}}
	sess := session.New(st, session.WithClock(func() time.Time { return epoch }))
	require.NoError(t, sess.LoadExam(context.Background(), "exam"))

	out := &bytes.Buffer{}
	return newExamRunner(sess, out, epoch), st, out
}

func feed(lines ...string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

func TestRunnerAnswersAndCompletes(t *testing.T) {
	r, st, out := loadedRunner(t, epoch, 30)

	err := r.loop(context.Background(), feed("2", "submit", "1", "s", "complete", "next"), nil)
	require.NoError(t, err)

	require.Len(t, st.submits, 2)
	assert.Equal(t, "c2", st.submits[0].ChoiceUUID)
	assert.Equal(t, "q2", st.submits[1].QuestionUUID)
	assert.Equal(t, 1, st.completes)

	text := out.String()
	assert.Contains(t, text, "Question 2/2")
	assert.Contains(t, text, "Correct answers: 1/2")
	assert.Contains(t, text, "Recommended course: Informatics")
	assert.Equal(t, session.StateCompleted, r.sess.State())
}

func TestRunnerRejectsBadInput(t *testing.T) {
	r, st, out := loadedRunner(t, epoch, 30)

	err := r.loop(context.Background(), feed("7", "submit", "goto 9", "dance", "quit", "1"), nil)
	require.NoError(t, err)

	assert.Empty(t, st.submits)
	text := out.String()
	assert.Contains(t, text, "choose between 1 and 2")
	assert.Contains(t, text, "please select an answer before submitting")
	assert.Contains(t, text, "no question 9")
	assert.Contains(t, text, `unknown command "dance"`)
	assert.Contains(t, text, "Leaving.")
	_, staged := r.sess.StagedAnswer("q1")
	assert.False(t, staged)
}

func TestRunnerNavigation(t *testing.T) {
	r, _, out := loadedRunner(t, epoch, 30)

	done, err := r.handle(context.Background(), "prev")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Contains(t, out.String(), "Already at the first question.")

	_, err = r.handle(context.Background(), "goto 2")
	require.NoError(t, err)
	assert.Equal(t, 1, r.sess.CurrentIndex())

	_, err = r.handle(context.Background(), "n")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Already at the last question.")
}

func TestRunnerAnnouncesTimeUpOnce(t *testing.T) {
	r, _, out := loadedRunner(t, epoch.Add(-59*time.Second), 1)
	require.Equal(t, 1, r.sess.TimeRemaining())

	ticks := make(chan time.Time, 3)
	for i := 1; i <= 3; i++ {
		ticks <- epoch.Add(time.Duration(i) * time.Second)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(ticks) > 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	require.NoError(t, r.loop(ctx, nil, ticks))
	assert.Equal(t, 1, strings.Count(out.String(), "Time is up."))
	assert.Equal(t, session.StateLoaded, r.sess.State())
}

func TestTickCatchesUpAfterBlockingCall(t *testing.T) {
	r, _, out := loadedRunner(t, epoch, 30)
	start := r.sess.TimeRemaining()

	// A tick arriving before a full second has passed takes nothing off.
	r.tick(epoch.Add(400 * time.Millisecond))
	assert.Equal(t, start, r.sess.TimeRemaining())

	// A request blocked the loop for seven seconds; the next tick covers all of them.
	r.tick(epoch.Add(7400 * time.Millisecond))
	assert.Equal(t, start-7, r.sess.TimeRemaining())

	r.tick(epoch.Add(8 * time.Second))
	assert.Equal(t, start-8, r.sess.TimeRemaining())
	assert.Empty(t, out.String())
}

func TestTickAnnouncesSkippedMilestone(t *testing.T) {
	r, _, out := loadedRunner(t, epoch.Add(-25*time.Minute-55*time.Second), 30)
	require.Equal(t, 245, r.sess.TimeRemaining())

	r.tick(epoch.Add(190 * time.Second))
	assert.Equal(t, 55, r.sess.TimeRemaining())
	assert.Contains(t, out.String(), "[00:55 left]")
}

func TestPassedMilestone(t *testing.T) {
	assert.True(t, passedMilestone(301, 300))
	assert.True(t, passedMilestone(605, 598))
	assert.True(t, passedMilestone(61, 60))
	assert.True(t, passedMilestone(11, 9))
	assert.False(t, passedMilestone(300, 299))
	assert.False(t, passedMilestone(120, 110))
	assert.False(t, passedMilestone(1, 0))
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00", formatClock(-3))
	assert.Equal(t, "01:05", formatClock(65))
	assert.Equal(t, "1:00:01", formatClock(3601))
}

func TestPrintHistory(t *testing.T) {
	score := model.Decimal(82.5)
	items := []model.ExamHistoryItem{
		{UUID: "a1", Status: model.AttemptStatusCompleted, Score: &score, Exam: model.HistoryExam{Title: "Entrance"}},
		{UUID: "a2", Status: model.AttemptStatusInProgress},
	}
	out := &bytes.Buffer{}
	printHistory(out, items, history.Summary{Total: 2, Completed: 1, InProgress: 1, AverageScore: 83, Passed: 1})

	text := out.String()
	assert.Contains(t, text, "82.5")
	assert.Contains(t, text, "Entrance")
	assert.Contains(t, text, "Average score: 83")

	out.Reset()
	printHistory(out, nil, history.Summary{})
	assert.Equal(t, "No exam attempts yet.\n", out.String())
}

func TestReadToken(t *testing.T) {
	t.Setenv(tokenEnv, "  applicant-token ")
	token, err := readToken(strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "applicant-token", token)

	t.Setenv(tokenEnv, "")
	_, err = readToken(strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, errNoToken)
}
