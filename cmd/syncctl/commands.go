package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/eduflow-sync/internal/syncer"
)

const defaultListLimit = 50

func newRootCmd(open appOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Inspect and drive the EduFlow sync agent's local outbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newStatusCmd(open),
		newSyncCmd(open),
		newOutboxCmd(open),
		newDLQCmd(open),
	)
	return root
}

// withApp opens the app for one command and always closes it.
func withApp(open appOpener, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func newStatusCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, quarantine size and remote reachability",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			manager, closeRemote, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRemote()
			return writeJSON(cmd.OutOrStdout(), manager.Status(cmd.Context()))
		}),
	}
}

func newSyncCmd(open appOpener) *cobra.Command {
	var orgs []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		Long: `Run one sync pass for each organization: replay the outbox in order,
then refresh the clean cache from the remote store.

Organizations default to EDUFLOW_SYNC_ORG_IDS.`,
		Args: cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			if len(orgs) == 0 {
				orgs = a.cfg.Sync.Organizations()
			}
			if len(orgs) == 0 {
				return errors.New("no organization given; pass --org or set EDUFLOW_SYNC_ORG_IDS")
			}
			manager, closeRemote, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRemote()

			reports := make([]syncer.Report, 0, len(orgs))
			var failed bool
			for _, org := range orgs {
				report, err := manager.SyncAll(cmd.Context(), org)
				if err != nil {
					return fmt.Errorf("sync %s: %w", org, err)
				}
				if report.Failed() || report.Skipped != syncer.SkipNone {
					failed = true
				}
				reports = append(reports, report)
			}
			if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			if failed {
				return errors.New("sync did not complete for every organization")
			}
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&orgs, "org", nil, "organization id (repeatable)")
	return cmd
}

func newOutboxCmd(open appOpener) *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect queued mutations",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending events in replay order",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			events, err := a.outbox.Pending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tEVENT\tCOLLECTION\tACTION\tDOC\tSTATUS\tATTEMPTS\tCREATED")
			for _, e := range events {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					e.Seq, e.ID, e.Collection, e.Action, e.DocID, e.Status, e.AttemptCount, e.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}
	list.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum events to show")
	outboxCmd.AddCommand(list)
	return outboxCmd
}

func newDLQCmd(open appOpener) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and resolve quarantined events",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List quarantined events, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, a *app, _ []string) error {
			entries, err := a.outbox.Quarantined(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EVENT\tCOLLECTION\tACTION\tDOC\tREASON\tATTEMPTS\tFAILED\tERROR")
			for _, e := range entries {
				msg := ""
				if e.ErrorMessage != nil {
					msg = *e.ErrorMessage
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.EventID, e.Collection, e.Action, e.DocID, e.ErrorReason, e.AttemptCount, e.FailedAt.Format(time.RFC3339), msg)
			}
			return tw.Flush()
		}),
	}
	list.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum entries to show")

	requeue := &cobra.Command{
		Use:   "requeue <event-id>",
		Short: "Move a quarantined event back to the tail of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app, args []string) error {
			event, err := a.outbox.Requeue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s as seq %d\n", event.ID, event.Seq)
			return nil
		}),
	}

	discard := &cobra.Command{
		Use:   "discard <event-id>",
		Short: "Drop a quarantined event; the next pull restores the remote version",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.outbox.Discard(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded %s\n", args[0])
			return nil
		}),
	}

	dlqCmd.AddCommand(list, requeue, discard)
	return dlqCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
