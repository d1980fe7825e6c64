package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/chapterquiz/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage assessment sessions",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <student> <chapter>",
	Short: "Show sessions, cooldown and progression for a student and chapter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		svc := e.sessions()
		rec, err := svc.Record(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("No sessions yet.")
			return nil
		}

		fmt.Printf("%-4s  %-11s  %-19s  %-19s  %7s  %8s  %7s\n",
			"ID", "Status", "Started", "Closed", "Score", "Cooldown", "Answers")
		fmt.Println(strings.Repeat("─", 86))
		for _, s := range rec.Sessions {
			closed, score, cooldown := "-", "-", "-"
			if s.ClosedAt != nil {
				closed = s.ClosedAt.Local().Format(time.DateTime)
				score = fmt.Sprintf("%.0f%%", s.ScorePercentage)
			}
			if s.CooldownHours != nil {
				cooldown = fmt.Sprintf("%dh", *s.CooldownHours)
			}
			fmt.Printf("%-4d  %-11s  %-19s  %-19s  %7s  %8s  %7d\n",
				s.ID, s.Status, s.StartedAt.Local().Format(time.DateTime), closed, score, cooldown, len(s.Answers))
		}

		now := time.Now()
		fmt.Println()
		fmt.Printf("Difficulty:     %s\n", rec.Progression.CurrentDifficulty)
		if rec.Progression.LastSubtopic != "" {
			fmt.Printf("Last subtopic:  %s\n", rec.Progression.LastSubtopic)
		}
		if session.CanStartNewSession(rec, now) {
			fmt.Println("Next session:   available now")
		} else if rec.CurrentSession() != nil {
			fmt.Println("Next session:   a session is open")
		} else {
			fmt.Printf("Next session:   in %dh\n", session.HoursUntilNextSession(rec, now))
		}
		return nil
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <student> <chapter>",
	Short: "Close the open session and apply its cooldown",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		s, err := e.sessions().CloseSession(cmd.Context(), args[0], args[1])
		if errors.Is(err, session.ErrNoActiveSession) {
			fmt.Println("No open session.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		fmt.Printf("Closed session %d at %.0f%%, cooldown %dh.\n", s.ID, s.ScorePercentage, *s.CooldownHours)
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset-progression <student> <chapter>",
	Short: "Put a student back at Easy for a chapter, keeping session history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.sessions().ResetProgression(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("reset progression: %w", err)
		}
		fmt.Println("Progression reset.")
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
	sessionCmd.AddCommand(sessionResetCmd)
}
