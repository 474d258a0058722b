package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teilen/snap-to-days/archive"
	"github.com/teilen/snap-to-days/history"
	"github.com/teilen/snap-to-days/stats"
)

var (
	inspectInput     string
	inspectWorkspace string
	inspectReportDir string
	inspectTopN      int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Analyse an export's history and show statistics without writing the day archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		archives, err := archive.ListArchives(inspectInput)
		if err != nil {
			return err
		}

		fmt.Printf("Analyzing %d archive(s) from %s\n\n", len(archives), inspectInput)

		if err := os.RemoveAll(inspectWorkspace); err != nil {
			return fmt.Errorf("clear workspace: %w", err)
		}
		defer os.RemoveAll(inspectWorkspace)

		ex, err := archive.NewExtractor(archive.Options{Workspace: inspectWorkspace, Workers: 4}, logger, nil)
		if err != nil {
			return err
		}
		if err := ex.ExtractAll(context.Background(), archives); err != nil {
			return err
		}

		store, _, err := history.NewBuilder(logger, nil).Load(filepath.Join(inspectWorkspace, "json"))
		if err != nil {
			return err
		}

		senders := make(map[string]int)
		conversations := make(map[string]int)
		days := make(map[string]int)
		types := make(map[string]int)
		for date, bucket := range store.Days {
			for _, conv := range bucket.Conversations {
				conversations[conv.ID] += len(conv.Messages)
				days[date] += len(conv.Messages)
				for _, msg := range conv.Messages {
					if msg.From != "" {
						senders[msg.From]++
					}
					types[msg.Type]++
				}
			}
		}

		fmt.Printf("Account owner: %s\n", store.Owner)
		fmt.Printf("Messages: %d chat, %d snap across %d days and %d users\n\n",
			types["message"], types["snap"], len(store.Days), len(store.Usernames))

		counters := map[string]map[string]int{
			"senders":       senders,
			"conversations": conversations,
			"days":          days,
		}

		for _, name := range []string{"senders", "conversations", "days"} {
			fmt.Printf("Top %d %s:\n", inspectTopN, name)
			stats.PrettyPrintTop(counters[name], inspectTopN)
			fmt.Println()
		}

		if err := saveCSVReports(counters, inspectReportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}
		fmt.Printf("Reports saved to directory: %s\n", inspectReportDir)

		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectInput, "input", "input", "Directory containing the export zip archives")
	inspectCmd.Flags().StringVar(&inspectWorkspace, "workspace", "_tmp_inspect", "Scratch directory for extracted archive contents")
	inspectCmd.Flags().StringVarP(&inspectReportDir, "output", "o", ".", "Output directory for CSV reports")
	inspectCmd.Flags().IntVarP(&inspectTopN, "top", "t", 10, "Number of top items to display in statistics")
	rootCmd.AddCommand(inspectCmd)
}

func saveCSVReports(counters map[string]map[string]int, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for name, counts := range counters {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", name))

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)

		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		// Sort by count descending
		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].Value != pairs[j].Value {
				return pairs[i].Value > pairs[j].Value
			}
			return pairs[i].Key < pairs[j].Key
		})

		for i := 0; i < limit && i < len(pairs); i++ {
			record := []string{
				pairs[i].Key,
				strconv.Itoa(pairs[i].Value),
			}
			if err := writer.Write(record); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}
