// take.go implements "examctl take", an interactive exam attempt.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/session"
)

var takeCmd = &cobra.Command{
	Use:   "take <exam-uuid>",
	Short: "Take an exam in the terminal",
	Long: `Start or resume an exam attempt. The countdown runs while you answer.

Commands at the prompt:
  <n>        select choice n of the current question
  submit, s  submit the selected answer and move on
  next, n    next question
  prev, p    previous question
  goto <k>   jump to question k
  show       print the current question again
  complete   finish the exam and show the result
  quit, q    leave without completing (the attempt stays open)`,
	Args: cobra.ExactArgs(1),
	RunE: runTake,
}

func runTake(cmd *cobra.Command, args []string) error {
	examID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid exam id %q", args[0])
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(c.transport, session.WithLogger(c.log))
	if err := sess.LoadExam(ctx, examID.String()); err != nil {
		return fmt.Errorf("load exam: %w", err)
	}

	r := newExamRunner(sess, cmd.OutOrStdout(), time.Now())
	r.intro()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	return r.loop(ctx, readLines(cmd.InOrStdin()), ticker.C)
}

// readLines streams trimmed input lines until EOF.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}

// examRunner drives one session from a single goroutine: ticks and input
// lines are handled in turn, never concurrently.
type examRunner struct {
	sess *session.ExamSession
	out  io.Writer
	// counted is the wall time up to which seconds were taken off the timer.
	// Ticks missed while a request was in flight are caught up from it.
	counted time.Time
}

func newExamRunner(sess *session.ExamSession, out io.Writer, start time.Time) *examRunner {
	return &examRunner{sess: sess, out: out, counted: start}
}

// loop returns when the exam is completed, the user quits, input ends or
// ctx is cancelled.
func (r *examRunner) loop(ctx context.Context, lines <-chan string, ticks <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out, "\nInterrupted. Your attempt stays open and can be resumed.")
			return nil
		case now := <-ticks:
			r.tick(now)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := r.handle(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "! %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

// tick takes every whole second elapsed since the last tick off the timer.
func (r *examRunner) tick(now time.Time) {
	steps := int(now.Sub(r.counted) / time.Second)
	if steps < 1 {
		return
	}
	r.counted = r.counted.Add(time.Duration(steps) * time.Second)

	before := r.sess.TimeRemaining()
	remaining, expired := before, false
	for i := 0; i < steps && remaining > 0; i++ {
		var crossed bool
		remaining, crossed = r.sess.DecrementTimer()
		expired = expired || crossed
	}

	switch {
	case expired:
		fmt.Fprintln(r.out, "\nTime is up. Type 'complete' to finish the exam.")
	case passedMilestone(before, remaining):
		fmt.Fprintf(r.out, "\n[%s left]\n", formatClock(remaining))
	}
}

// passedMilestone reports whether the countdown moved from before to after
// across a five-minute mark, the last minute or the last ten seconds.
func passedMilestone(before, after int) bool {
	if after <= 0 || after >= before {
		return false
	}
	for _, m := range []int{10, 60, (before - 1) / 300 * 300} {
		if m > 0 && after <= m && m < before {
			return true
		}
	}
	return false
}

// handle applies one input line and reports whether the runner should stop.
func (r *examRunner) handle(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "quit", "q", "exit":
		fmt.Fprintln(r.out, "Leaving. Your attempt stays open and can be resumed.")
		return true, nil
	case "show":
		r.render()
	case "next", "n":
		if !r.sess.NextQuestion() {
			fmt.Fprintln(r.out, "Already at the last question.")
			return false, nil
		}
		r.render()
	case "prev", "p":
		if !r.sess.PreviousQuestion() {
			fmt.Fprintln(r.out, "Already at the first question.")
			return false, nil
		}
		r.render()
	case "goto", "g":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: goto <question number>")
		}
		k, err := strconv.Atoi(fields[1])
		if err != nil || !r.sess.GoToQuestion(k-1) {
			return false, fmt.Errorf("no question %s", fields[1])
		}
		r.render()
	case "submit", "s":
		return false, r.submit(ctx)
	case "complete":
		return r.complete(ctx)
	default:
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return false, fmt.Errorf("unknown command %q", fields[0])
		}
		return false, r.selectChoice(n)
	}
	return false, nil
}

func (r *examRunner) selectChoice(n int) error {
	q, ok := r.sess.CurrentQuestion()
	if !ok {
		return fmt.Errorf("no question at the current position")
	}
	if n < 1 || n > len(q.Choices) {
		return fmt.Errorf("choose between 1 and %d", len(q.Choices))
	}
	if err := r.sess.SelectAnswer(q.UUID, q.Choices[n-1].UUID); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Selected %d. Type 'submit' to send it.\n", n)
	return nil
}

func (r *examRunner) submit(ctx context.Context) error {
	resp, err := r.sess.SubmitAnswer(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved (%d/%d attempted).\n", resp.AttemptedQuestions, resp.TotalQuestions)
	if r.sess.NextQuestion() {
		r.render()
	} else {
		fmt.Fprintln(r.out, "That was the last question. Review with 'goto <k>' or type 'complete'.")
	}
	return nil
}

func (r *examRunner) complete(ctx context.Context) (bool, error) {
	res, err := r.sess.CompleteExam(ctx)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(r.out)
	printResult(r.out, res)
	return true, nil
}

func (r *examRunner) intro() {
	v := r.sess.Snapshot()
	fmt.Fprintf(r.out, "%s\n", v.Title)
	fmt.Fprintf(r.out, "%d questions, %d already answered, %s left\n",
		v.TotalQuestions, v.AttemptedCount, formatClock(v.TimeRemainingSeconds))
	if v.TimeUp {
		fmt.Fprintln(r.out, "Time is already up. Type 'complete' to finish the exam.")
	}
	r.render()
}

func (r *examRunner) render() {
	v := r.sess.Snapshot()
	if v.CurrentQuestion == nil {
		fmt.Fprintln(r.out, "This exam has no questions.")
		return
	}
	q := v.CurrentQuestion

	fmt.Fprintf(r.out, "\nQuestion %d/%d  [%d attempted, %s left]\n",
		v.CurrentIndex+1, len(v.Questions), v.AttemptedCount, formatClock(v.TimeRemainingSeconds))
	fmt.Fprintln(r.out, q.Text)
	staged := v.StagedAnswers[q.UUID]
	for i, ch := range q.Choices {
		fmt.Fprintf(r.out, "  %s %d) %s\n", marker(ch, staged), i+1, choiceText(ch))
	}
}

func marker(ch model.Choice, staged string) string {
	if ch.UUID == staged {
		return "*"
	}
	return " "
}

func choiceText(ch model.Choice) string {
	if ch.Label != "" && ch.Text != "" {
		return ch.Label + ". " + ch.Text
	}
	if ch.Text != "" {
		return ch.Text
	}
	return ch.Label
}

// formatClock renders seconds as MM:SS, or H:MM:SS from one hour up.
func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds%3600/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
