// result.go implements "examctl result".
package cli

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/session"
)

var resultCmd = &cobra.Command{
	Use:   "result <attempt-uuid>",
	Short: "Show the result of a finished attempt",
	Args:  cobra.ExactArgs(1),
	RunE:  runResult,
}

func runResult(cmd *cobra.Command, args []string) error {
	attemptID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid attempt id %q", args[0])
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	sess := session.New(c.transport, session.WithLogger(c.log))
	res, err := sess.FetchExamResult(c.ctx, attemptID.String())
	if err != nil {
		return fmt.Errorf("fetch result: %w", err)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func printResult(out io.Writer, res *model.CompletionResult) {
	fmt.Fprintln(out, res.Message)
	fmt.Fprintf(out, "Score: %.1f\n", res.Score)
	fmt.Fprintf(out, "Correct answers: %d/%d\n", res.CorrectAnswers, res.TotalQuestions)
	if res.RecommendedCourse != nil && *res.RecommendedCourse != "" {
		fmt.Fprintf(out, "Recommended course: %s\n", *res.RecommendedCourse)
	}
}
