package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/service"
)

func newEventsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and replay conversion events",
	}

	var (
		status    string
		eventType int
		outerID   string
		page      int
		limit     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if cmd.Flags().Changed("event-type") {
				q.Set("event_type", strconv.Itoa(eventType))
			}
			if outerID != "" {
				q.Set("outer_event_id", outerID)
			}
			q.Set("page", strconv.Itoa(page))
			q.Set("limit", strconv.Itoa(limit))

			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var events []models.ConversionEvent
			env, err := c.do(ctx, http.MethodGet, "/v1/admin/events?"+q.Encode(), nil, &events)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			if err := printEvents(cmd.OutOrStdout(), events); err != nil {
				return err
			}
			if p := env.Meta.Pagination; p != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\npage %d/%d, %d events\n", p.Page, p.TotalPages, p.TotalItems)
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, success, failed)")
	list.Flags().IntVar(&eventType, "event-type", 0, "filter by event type")
	list.Flags().StringVar(&outerID, "outer-event-id", "", "filter by outer_event_id")
	list.Flags().IntVar(&page, "page", 1, "page number")
	list.Flags().IntVar(&limit, "limit", 50, "page size")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var ev models.ConversionEvent
			if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/admin/events/%d", id), nil, &ev); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), ev)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count events per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var st service.EventStats
			if _, err := c.do(ctx, http.MethodGet, "/v1/admin/events/stats", nil, &st); err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, s := range []models.EventStatus{models.EventStatusPending, models.EventStatusProcessing, models.EventStatusSuccess, models.EventStatusFailed} {
				fmt.Fprintf(tw, "%s\t%d\n", s, st.ByStatus[s])
			}
			fmt.Fprintf(tw, "total\t%d\n", st.Total)
			return tw.Flush()
		},
	}

	replay := &cobra.Command{
		Use:   "replay <id>",
		Short: "Forward a failed event again as a new event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var out struct {
				EventID        int64              `json:"event_id"`
				Status         models.EventStatus `json:"status"`
				ProcessingTime int                `json:"processing_time"`
				ErrorMessage   *string            `json:"error_message"`
			}
			if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/events/%d/replay", id), nil, &out); err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d as %d: %s (%dms)\n", id, out.EventID, out.Status, out.ProcessingTime)
			if out.ErrorMessage != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", *out.ErrorMessage)
			}
			return nil
		},
	}

	cmd.AddCommand(list, get, stats, replay)
	return cmd
}

func printEvents(w io.Writer, events []models.ConversionEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tOUTER ID\tRECEIVED\tERROR")
	for _, ev := range events {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.EventType, ev.Status, deref(ev.OuterEventID),
			ev.ReceivedAt.Format(time.RFC3339), deref(ev.ErrorMessage))
	}
	return tw.Flush()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid event id %q", s)
	}
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
