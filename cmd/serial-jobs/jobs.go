package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/kind"
	"github.com/jdziat/serial-jobs/pkg/orchestrator"
	"github.com/jdziat/serial-jobs/pkg/queue"
)

const timeLayout = "2006-01-02 15:04:05"

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and edit stored jobs",
	}
	cmd.AddCommand(
		newJobsListCmd(opts),
		newJobsAddCmd(opts),
		newJobsRemoveCmd(opts),
		newJobsHistoryCmd(opts),
	)
	return cmd
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var items []*core.JobItem
			switch core.JobState(state) {
			case "":
				waiting, err := a.store.GetJobsInState(cmd.Context(), core.StateWaiting)
				if err != nil {
					return err
				}
				running, err := a.store.GetJobsInState(cmd.Context(), core.StateRunning)
				if err != nil {
					return err
				}
				items = append(running, waiting...)
			case core.StateWaiting, core.StateRunning:
				items, err = a.store.GetJobsInState(cmd.Context(), core.JobState(state))
				if err != nil {
					return err
				}
			default:
				return errors.Newf("unknown state %q", state)
			}

			printJobs(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only list jobs in this state (waiting or running)")
	return cmd
}

func newJobsAddCmd(opts *rootOptions) *cobra.Command {
	var (
		req  core.JobRequest
		args string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if args != "" {
				if !json.Valid([]byte(args)) {
					return errors.New("--args must be valid JSON")
				}
				req.Arguments = json.RawMessage(args)
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}

			// Only the insertion path is used, so the orchestrator needs no
			// kinds and its queue is never started.
			registry, err := kind.NewRegistry()
			if err != nil {
				return err
			}
			orch := orchestrator.New(a.store, registry, queue.New(),
				orchestrator.WithLogger(a.logger),
				orchestrator.WithConfig(orchestrator.Config{MinInterval: a.cfg.Scheduler.MinInterval}),
			)

			res, err := orch.AddJobs(cmd.Context(), []*core.JobRequest{&req})
			if err != nil {
				return err
			}
			if len(res.Dropped) > 0 {
				return errors.Wrapf(core.ErrUnresolvedRunAfter, "run-after %q", req.RunAfter)
			}
			printJobs(cmd.OutOrStdout(), res.Added)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Type, "type", "", "job type")
	f.StringVar(&req.Name, "name", "", "unique job name")
	f.DurationVar(&req.Interval, "interval", 0, "run interval; zero makes a one-shot job")
	f.StringVar(&req.RunAfter, "run-after", "", "id or name of a job this one waits for")
	f.BoolVar(&req.DeleteAfterRun, "delete-after-run", false, "delete the job after its first run")
	f.BoolVar(&req.RunImmediately, "now", false, "make a recurring job due immediately")
	f.StringVar(&args, "args", "", "job arguments as JSON")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newJobsRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id-or-name>",
		Aliases: []string{"remove"},
		Short:   "Delete a job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.RemoveJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newJobsHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		jobID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent job runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.store.GetHistory(cmd.Context(), jobID, limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "only show runs of this job id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows")
	return cmd
}

func borderlessTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func printJobs(w io.Writer, items []*core.JobItem) {
	table := borderlessTable(w)
	table.SetHeader([]string{"id", "name", "type", "state", "interval", "run after", "last run", "next run"})
	for _, item := range items {
		interval := "-"
		if item.Interval > 0 {
			interval = item.Interval.String()
		}
		runAfter := "-"
		if item.RunAfter != nil {
			runAfter = *item.RunAfter
		}
		table.Append([]string{
			item.ID,
			orDash(item.NameOrEmpty()),
			item.Type,
			string(item.State),
			interval,
			runAfter,
			formatTime(item.LastRun),
			formatTime(item.NextRun),
		})
	}
	table.Render()
}

func printHistory(w io.Writer, rows []*core.JobHistory) {
	table := borderlessTable(w)
	table.SetHeader([]string{"#", "job", "type", "result", "started", "took", "message"})
	for _, h := range rows {
		job := h.Name
		if job == "" {
			job = h.JobID
		}
		table.Append([]string{
			strconv.FormatUint(uint64(h.ID), 10),
			job,
			h.Type,
			string(h.Result),
			h.Start.Local().Format(timeLayout),
			h.End.Sub(h.Start).Round(time.Millisecond).String(),
			orDash(h.Message),
		})
	}
	table.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
