// history.go implements "examctl history".
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/stemsi/exam-gateway/internal/history"
	"github.com/stemsi/exam-gateway/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past exam attempts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	h := history.New(c.transport, c.log)
	items, err := h.Fetch(c.ctx)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	printHistory(cmd.OutOrStdout(), items, h.Summary())
	return nil
}

func printHistory(out io.Writer, items []model.ExamHistoryItem, sum history.Summary) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No exam attempts yet.")
		return
	}

	for _, it := range items {
		score := "-"
		if it.Score != nil {
			score = fmt.Sprintf("%.1f", it.Score.Float64())
		}
		fmt.Fprintf(out, "  %-36s  %-11s  %6s  %s\n", it.UUID, it.Status, score, it.Exam.Title)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Total: %d  Completed: %d  In progress: %d  Not started: %d\n",
		sum.Total, sum.Completed, sum.InProgress, sum.NotStarted)
	if sum.Completed > 0 {
		fmt.Fprintf(out, "Average score: %d  Passed: %d  Failed: %d\n",
			sum.AverageScore, sum.Passed, sum.Failed)
	}
}
