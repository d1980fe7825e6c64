package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/abhisek/chapterquiz/internal/ranking"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Compute and inspect learner rankings",
}

var rankRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute the ranking now",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		summary, err := e.aggregator().Refresh(cmd.Context())
		if errors.Is(err, ranking.ErrRunInProgress) {
			fmt.Println("Another ranking run is in progress.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("refresh ranking: %w", err)
		}

		fmt.Printf("Run:      %s\n", summary.RunID)
		fmt.Printf("Ranked:   %d\n", summary.Ranked)
		fmt.Printf("Duration: %s\n", summary.Duration.Round(time.Millisecond))
		if len(summary.Skipped) > 0 {
			fmt.Printf("Skipped:  %s\n", strings.Join(summary.Skipped, ", "))
		}
		return nil
	},
}

var rankShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's rank and neighbors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("neighbors")

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		n, err := e.aggregator().UserRanking(cmd.Context(), args[0], k)
		if errors.Is(err, ranking.ErrNotRanked) {
			fmt.Printf("%s is not ranked yet.\n", args[0])
			return nil
		}
		if err != nil {
			return fmt.Errorf("user ranking: %w", err)
		}

		fmt.Printf("%-6s  %-24s  %10s  %10s  %10s  %10s\n",
			"Rank", "User", "Points", "Marks", "Quiz h", "Learn h")
		fmt.Println(strings.Repeat("─", 80))
		rows := append(append(append([]ranking.Entry{}, n.Above...), n.Self), n.Below...)
		for _, r := range rows {
			marker := " "
			if r.UserID == n.Self.UserID {
				marker = "*"
			}
			fmt.Printf("%-5d%s  %-24s  %10.3f  %10.1f  %10.2f  %10.2f\n",
				r.Rank, marker, r.UserID, r.Points, r.TotalMarksEarned, r.QuizTimeHours, r.LearningTimeHours)
		}
		return nil
	},
}

var rankWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh the ranking on a schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		every, _ := cmd.Flags().GetDuration("every")
		if every <= 0 {
			every = e.cfg.RankInterval
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					e.logger.Error("metrics server failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			e.logger.Info("serving metrics", "addr", addr)
		}

		sched := ranking.NewScheduler(e.aggregator(), every, e.logger)
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	},
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func init() {
	rankShowCmd.Flags().IntP("neighbors", "k", 3, "Number of neighbors to show on each side")
	rankWatchCmd.Flags().Duration("every", 0, "Refresh interval (default CHAPTERQUIZ_RANK_INTERVAL or 24h)")
	rankWatchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rankCmd.AddCommand(rankRefreshCmd)
	rankCmd.AddCommand(rankShowCmd)
	rankCmd.AddCommand(rankWatchCmd)
}
