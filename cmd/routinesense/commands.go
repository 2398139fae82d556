package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/routinesense/ai/proactive"
	"github.com/hrygo/routinesense/internal/version"
	"github.com/hrygo/routinesense/store"
)

var (
	detectCmd = &cobra.Command{
		Use:   "detect",
		Short: "Run one detection pass for a user, or for every active user",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			detector, monitor, err := a.engine()
			if err != nil {
				return err
			}
			if userID, _ := cmd.Flags().GetInt32("user"); userID != 0 {
				result, err := detector.DetectUser(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}
			report, err := proactive.NewScheduler(detector, monitor, a.store, a.store, a.config, a.options()...).RunDetection(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run one forgotten-activity sweep for a user, or for every automated pattern",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			detector, monitor, err := a.engine()
			if err != nil {
				return err
			}
			if userID, _ := cmd.Flags().GetInt32("user"); userID != 0 {
				result, err := monitor.SweepUser(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}
			report, err := proactive.NewScheduler(detector, monitor, a.store, a.store, a.config, a.options()...).RunSweep(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}

	patternsCmd = &cobra.Command{
		Use:   "patterns",
		Short: "Inspect and answer detected patterns",
	}

	patternsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List a user's patterns, most consistent first",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			list, err := a.responder().ListPatterns(ctx, userFlag(cmd))
			if err != nil {
				return err
			}
			return printPatterns(cmd.OutOrStdout(), list, a.profile.Location())
		}),
	}

	patternsStaleCmd = &cobra.Command{
		Use:   "stale",
		Short: "List patterns without recent evidence",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			list, err := a.responder().StalePatterns(ctx, userFlag(cmd))
			if err != nil {
				return err
			}
			return printPatterns(cmd.OutOrStdout(), list, a.profile.Location())
		}),
	}

	patternsAcceptCmd  = responseCommand("accept", "Accept the automation offer for a pattern", (*proactive.Responder).AcceptAutomation)
	patternsDeclineCmd = responseCommand("decline", "Decline the automation offer for a pattern", (*proactive.Responder).DeclineAutomation)
	patternsPauseCmd   = responseCommand("pause", "Pause reminders for an automated pattern", (*proactive.Responder).PausePattern)

	patternsDeleteCmd = &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.responder().DeletePattern(ctx, userFlag(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}

	activityCmd = &cobra.Command{
		Use:   "activity",
		Short: "Record reminder and task activity",
	}

	activityAddCmd = &cobra.Command{
		Use:   "add <title>",
		Short: "Record one activity",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			if at == "" {
				at = time.Now().In(a.profile.Location()).Format(time.RFC3339)
			}
			kind, _ := cmd.Flags().GetString("type")
			sourceID, _ := cmd.Flags().GetString("source-id")
			record := &store.ActivityRecord{
				UserID:     userFlag(cmd),
				SourceID:   sourceID,
				Title:      strings.Join(args, " "),
				Type:       store.ActivityType(kind),
				OccurredAt: at,
			}
			if err := validateActivity(record); err != nil {
				return err
			}
			created, err := a.store.CreateActivity(ctx, record)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded activity %d\n", created.ID)
			return nil
		}),
	}

	activityImportCmd = &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: `Import activities from JSON lines: {"userId":1,"title":"...","type":"task","occurredAt":"..."}`,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrapf(err, "failed to open %s", args[0])
			}
			defer f.Close()

			imported, err := importActivities(ctx, a.store, f)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d activities\n", imported)
			return err
		}),
	}

	notificationsCmd = &cobra.Command{
		Use:   "notifications",
		Short: "Inspect the notification inbox",
	}

	notificationsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List a user's notifications, newest first",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			userID := userFlag(cmd)
			limit, _ := cmd.Flags().GetInt("limit")
			list, err := a.store.ListNotifications(ctx, &store.FindNotification{UserID: &userID, Limit: &limit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPRIORITY\tCREATED\tTITLE")
			for _, n := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					n.ID, n.Kind, n.Priority,
					time.Unix(n.CreatedTs, 0).In(a.profile.Location()).Format("2006-01-02 15:04"),
					n.Title)
			}
			return w.Flush()
		}),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{detectCmd, sweepCmd} {
		cmd.Flags().Int32("user", 0, "user ID (default every user)")
	}
	for _, cmd := range []*cobra.Command{
		patternsListCmd, patternsStaleCmd, patternsAcceptCmd, patternsDeclineCmd, patternsPauseCmd,
		patternsDeleteCmd, activityAddCmd, notificationsListCmd,
	} {
		cmd.Flags().Int32("user", 1, "user ID")
	}
	activityAddCmd.Flags().String("type", string(store.ActivityTypeTask), "activity type (task, reminder)")
	activityAddCmd.Flags().String("at", "", "occurrence time, RFC3339 (default now)")
	activityAddCmd.Flags().String("source-id", "", "ID of the record in the source subsystem")
	notificationsListCmd.Flags().Int("limit", 20, "maximum notifications to list")

	patternsCmd.AddCommand(patternsListCmd, patternsStaleCmd, patternsAcceptCmd, patternsDeclineCmd, patternsPauseCmd, patternsDeleteCmd)
	activityCmd.AddCommand(activityAddCmd, activityImportCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
}

// withApp opens the store for the duration of one command.
func withApp(run func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return run(ctx, a, cmd, args)
	}
}

func responseCommand(use, short string, respond func(*proactive.Responder, context.Context, int32, string) (*store.Pattern, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <uid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			p, err := respond(a.responder(), ctx, userFlag(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q: %s (automated: %t)\n", p.UID, p.Title, p.UserResponse, p.AutoCreated)
			return nil
		}),
	}
}

func userFlag(cmd *cobra.Command) int32 {
	userID, _ := cmd.Flags().GetInt32("user")
	return userID
}

func validateActivity(record *store.ActivityRecord) error {
	if record.UserID <= 0 {
		return errors.Errorf("invalid user id %d", record.UserID)
	}
	if strings.TrimSpace(record.Title) == "" {
		return errors.New("title is required")
	}
	if !record.Type.Valid() {
		return errors.Errorf("invalid activity type %q", record.Type)
	}
	return nil
}

type activityCreator interface {
	CreateActivity(ctx context.Context, create *store.ActivityRecord) (*store.ActivityRecord, error)
}

type importedActivity struct {
	UserID     int32  `json:"userId"`
	SourceID   string `json:"sourceId"`
	Title      string `json:"title"`
	Type       string `json:"type"`
	OccurredAt string `json:"occurredAt"`
}

// importActivities reads JSON lines from r. Blank lines are skipped; the first
// invalid line stops the import.
func importActivities(ctx context.Context, creator activityCreator, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	imported, line := 0, 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var in importedActivity
		if err := json.Unmarshal([]byte(text), &in); err != nil {
			return imported, errors.Wrapf(err, "line %d", line)
		}
		record := &store.ActivityRecord{
			UserID:     in.UserID,
			SourceID:   in.SourceID,
			Title:      in.Title,
			Type:       store.ActivityType(in.Type),
			OccurredAt: in.OccurredAt,
		}
		if record.Type == "" {
			record.Type = store.ActivityTypeTask
		}
		if err := validateActivity(record); err != nil {
			return imported, errors.Wrapf(err, "line %d", line)
		}
		if _, err := creator.CreateActivity(ctx, record); err != nil {
			return imported, errors.Wrapf(err, "line %d", line)
		}
		imported++
	}
	return imported, errors.Wrap(scanner.Err(), "failed to read activities")
}

func printPatterns(w io.Writer, list []*store.Pattern, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tTITLE\tSCHEDULE\tCONSISTENCY\tOCCURRENCES\tPRIORITY\tRESPONSE\tAUTOMATED\tLAST SEEN")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%d\t%s\t%s\t%t\t%s\n",
			p.UID, p.Title, proactive.DescribeSchedule(p), p.Consistency*100, p.Occurrences,
			p.Priority, p.UserResponse, p.AutoCreated,
			p.LastOccurrence().In(loc).Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
