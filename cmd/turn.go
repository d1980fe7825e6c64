package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/chapterquiz/internal/turn"
)

var turnCmd = &cobra.Command{
	Use:   "turn <student> <chapter>",
	Short: "Apply one classified student message to the assessment flow",
	Long: `Apply one classified student message to the assessment flow.

The intent is the label produced by the external classifier:
continuing-answer, new-session-start, end-session or general-question.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		intentFlag, _ := cmd.Flags().GetString("intent")
		message, _ := cmd.Flags().GetString("message")

		intent, err := turn.ParseIntent(intentFlag)
		if err != nil {
			return err
		}
		t := turn.Turn{StudentID: args[0], ChapterID: args[1], Intent: intent, Message: message}
		if cmd.Flags().Changed("score") {
			v, _ := cmd.Flags().GetFloat64("score")
			maxMarks, _ := cmd.Flags().GetInt("max")
			t.Score = &turn.Score{Value: v, Max: maxMarks}
		}

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		out, err := turn.NewHandler(e.sessions(), e.bank, e.logger).Handle(cmd.Context(), t)
		if err != nil {
			return err
		}

		fmt.Printf("Action:   %s\n", out.Action)
		if out.SessionID > 0 {
			fmt.Printf("Session:  %d\n", out.SessionID)
		}
		if out.Recorded != nil {
			fmt.Printf("Recorded: %s %g/%d\n", out.Recorded.QuestionID, out.Recorded.Score, out.Recorded.QuestionMarks)
		}
		switch out.Action {
		case turn.ActionAsk:
			q := out.Question
			fmt.Printf("Question: [%s/%s, %d marks] %s\n", q.Difficulty, q.Subtopic, q.Marks, q.Text)
		case turn.ActionClosed:
			fmt.Printf("Score:    %.0f%%, cooldown %dh\n", out.Closed.ScorePercentage, *out.Closed.CooldownHours)
		case turn.ActionExhausted:
			fmt.Println("All questions answered; waiting for the last score.")
		case turn.ActionCooldown:
			fmt.Printf("Next session in %dh\n", out.HoursRemaining)
		}
		return nil
	},
}

func init() {
	turnCmd.Flags().String("intent", string(turn.IntentContinuingAnswer), "Classifier label for the message")
	turnCmd.Flags().StringP("message", "m", "", "Student message text")
	turnCmd.Flags().Float64("score", 0, "Evaluated score for the pending question")
	turnCmd.Flags().Int("max", 0, "Maximum score (default: the question's marks)")
}
