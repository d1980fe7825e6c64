package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Record timed learning activities",
}

var activityStartCmd = &cobra.Command{
	Use:   "start <user>",
	Short: "Start an activity, closing any open one of the same type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		kind, _ := cmd.Flags().GetString("type")
		if kind == "" {
			kind = e.cfg.Policy.LearningActivityType
		}
		id, err := e.store.Activities().Start(cmd.Context(), args[0], kind, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Started %s activity %d.\n", kind, id)
		return nil
	},
}

var activityStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Finish an activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ID %q: %w", args[0], err)
		}

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		act, err := e.store.Activities().Finish(cmd.Context(), id, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Activity %d: %.1f minutes.\n", act.ID, act.DurationMinutes)
		return nil
	},
}

func init() {
	activityStartCmd.Flags().String("type", "", "Activity type (default: the configured learning type)")

	activityCmd.AddCommand(activityStartCmd)
	activityCmd.AddCommand(activityStopCmd)
}
