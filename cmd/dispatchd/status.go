package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dispatchd/internal/journal"
	"dispatchd/internal/taskmgr"
)

var (
	statusLimit int
	statusTask  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show journaled task activity",
	Long: `Display recent task activity from the event journal.

Shows event totals by type and the most recent lifecycle events. With
--task, shows the full history of one task instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of recent events to show")
	statusCmd.Flags().StringVar(&statusTask, "task", "", "Show the full history of one task")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.Journal.Path
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		path = journal.DefaultPath(cwd)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No journal found. Run 'dispatchd serve' to start recording.")
		return nil
	}

	jnl, err := journal.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	if statusTask != "" {
		return printTaskHistory(jnl, statusTask)
	}

	counts, err := jnl.CountByType()
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	if len(counts) == 0 {
		fmt.Println("Journal is empty.")
		return nil
	}

	bold := color.New(color.Bold)
	bold.Println("Event totals")
	for _, typ := range []taskmgr.EventType{
		taskmgr.EventTaskCreated,
		taskmgr.EventTaskCompleted,
		taskmgr.EventTaskFailed,
		taskmgr.EventTaskCancelled,
		taskmgr.EventTaskRetrying,
	} {
		if n, ok := counts[typ]; ok {
			fmt.Printf("  %-16s %d\n", typ, n)
		}
	}
	fmt.Println()

	records, err := jnl.Recent(statusLimit)
	if err != nil {
		return fmt.Errorf("read recent events: %w", err)
	}

	bold.Printf("Last %d events\n", len(records))
	for _, r := range records {
		printRecord(r)
	}
	return nil
}

func printTaskHistory(jnl *journal.Journal, taskID string) error {
	records, err := jnl.TaskHistory(taskID)
	if err != nil {
		return fmt.Errorf("read task history: %w", err)
	}
	if len(records) == 0 {
		fmt.Printf("No events for task %s.\n", taskID)
		return nil
	}

	color.New(color.Bold).Printf("Task %s\n", taskID)
	for _, r := range records {
		printRecord(r)
	}
	return nil
}

func printRecord(r journal.Record) {
	stamp := r.OccurredAt.Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("  %s  %-14s %-36s", stamp, r.Type, r.TaskID)

	switch r.Type {
	case taskmgr.EventTaskCompleted:
		color.Green(line)
	case taskmgr.EventTaskFailed:
		suffix := ""
		if r.Error != "" {
			suffix = "  " + r.Error
		}
		color.Red(line + suffix)
	case taskmgr.EventTaskRetrying:
		color.Yellow("%s  attempt %d: %s", line, r.RetryCount, r.Error)
	case taskmgr.EventTaskCancelled:
		color.New(color.Faint).Println(line)
	default:
		fmt.Println(line)
	}
}
