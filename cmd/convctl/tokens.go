package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/service"
)

func newTokenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Ad platform token pair management",
	}

	var access, refresh string
	var expiresIn int
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the active token pair",
		Long:  "Replace the active access/refresh pair, e.g. after re-authorising the app on the ad platform.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if access == "" || refresh == "" {
				return fmt.Errorf("--access and --refresh are required")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var status service.TokenStatus
			body := map[string]interface{}{"access_token": access, "refresh_token": refresh, "expires_in": expiresIn}
			if _, err := c.do(ctx, http.MethodPost, "/v1/admin/tokens", body, &status); err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), opts.output, status)
		},
	}
	set.Flags().StringVar(&access, "access", "", "access token")
	set.Flags().StringVar(&refresh, "refresh", "", "refresh token")
	set.Flags().IntVar(&expiresIn, "expires-in", 0, "access token lifetime in seconds")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show token lifecycle status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var st service.TokenStatus
			if _, err := c.do(ctx, http.MethodGet, "/v1/admin/tokens/status", nil, &st); err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), opts.output, st)
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force an immediate token refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var out struct {
				Refresh service.RefreshResult `json:"refresh"`
				Status  service.TokenStatus   `json:"status"`
			}
			if _, err := c.do(ctx, http.MethodPost, "/v1/admin/tokens/refresh", nil, &out); err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed at %s, access token valid for %ds\n", out.Refresh.RefreshedAt.Format(time.RFC3339), out.Refresh.ExpiresIn)
			return nil
		},
	}

	var historyType string
	var historyLimit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List recent token rows, superseded ones included",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var tokens []models.Token
			path := fmt.Sprintf("/v1/admin/tokens/history?type=%s&limit=%d", url.QueryEscape(historyType), historyLimit)
			if _, err := c.do(ctx, http.MethodGet, path, nil, &tokens); err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), tokens)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACTIVE\tLAST REFRESH\tEXPIRES")
			for _, t := range tokens {
				fmt.Fprintf(tw, "%d\t%t\t%s\t%s\n", t.ID, t.IsActive, timeOrDash(t.LastRefreshAt), timeOrDash(t.ExpiresAt))
			}
			return tw.Flush()
		},
	}
	history.Flags().StringVar(&historyType, "type", string(models.TokenTypeAccess), "access_token or refresh_token")
	history.Flags().IntVar(&historyLimit, "limit", 20, "number of rows")

	cmd.AddCommand(set, status, refreshCmd, history)
	return cmd
}

func printStatus(w io.Writer, format string, st service.TokenStatus) error {
	if format == "json" {
		return writeJSON(w, st)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "State\t%s\n", st.State)
	fmt.Fprintf(tw, "App ID\t%s\n", st.AppID)
	fmt.Fprintf(tw, "Access token\t%s\n", present(st.HasAccessToken, st.AccessExpiresAt))
	fmt.Fprintf(tw, "Refresh token\t%s\n", present(st.HasRefreshToken, st.RefreshExpiresAt))
	fmt.Fprintf(tw, "Last refresh\t%s\n", timeOrDash(st.LastRefreshAt))
	fmt.Fprintf(tw, "Failures\t%d\n", st.ConsecutiveFailures)
	if st.LastError != "" {
		fmt.Fprintf(tw, "Last error\t%s (%s)\n", st.LastError, timeOrDash(st.LastErrorAt))
	}
	return tw.Flush()
}

func present(ok bool, expires *time.Time) string {
	if !ok {
		return "missing"
	}
	if expires == nil {
		return "present"
	}
	return "present, expires " + expires.Format(time.RFC3339)
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
