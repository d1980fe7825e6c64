package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/abhisek/chapterquiz/internal/questionbank"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Work with question bank files",
}

var bankValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a question bank file and summarize it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read bank: %w", err)
		}
		bank, err := questionbank.Parse(raw)
		if err != nil {
			return &questionbank.ErrInvalidBank{Path: args[0], Err: err}
		}

		counts := make(map[string]map[questionbank.Difficulty]int)
		for _, it := range bank.Questions {
			if counts[it.Subtopic] == nil {
				counts[it.Subtopic] = make(map[questionbank.Difficulty]int)
			}
			counts[it.Subtopic][it.Difficulty]++
		}
		subtopics := make([]string, 0, len(counts))
		for s := range counts {
			subtopics = append(subtopics, s)
		}
		sort.Strings(subtopics)

		fmt.Printf("%s: %d questions in %d subtopics\n", args[0], len(bank.Questions), len(subtopics))
		fmt.Printf("%-24s  %6s  %6s  %6s\n", "Subtopic", "Easy", "Medium", "Hard")
		for _, s := range subtopics {
			c := counts[s]
			fmt.Printf("%-24s  %6d  %6d  %6d\n", s, c[questionbank.Easy], c[questionbank.Medium], c[questionbank.Hard])
		}
		return nil
	},
}

func init() {
	bankCmd.AddCommand(bankValidateCmd)
}
