package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leetdaily/internal/solves"
)

type fetchOutput struct {
	Status   solves.Status `json:"status"`
	Problems []string      `json:"problems,omitempty"`
	Message  string        `json:"message,omitempty"`
	RunID    string        `json:"run_id,omitempty"`
}

func newFetchCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run one collection and print the result",
		Long: `Runs the same collection as GET /fetch-now once, without starting the
HTTP server, for use from a system cron. The configured token is used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildFromFlags(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if cerr := app.Close(ctx); cerr != nil {
					app.Logger().Warn("failed to close application", zap.Error(cerr))
				}
			}()

			res, err := app.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.Marshal(fetchOutput{
				Status:   res.Status,
				Problems: res.Problems,
				Message:  res.Message,
				RunID:    res.RunID,
			})
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
