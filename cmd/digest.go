package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDigestCmd() *cobra.Command {
	var (
		topic  string
		report bool
	)
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Runs one digest and prints it as JSON",
		Long: `Runs the pipeline once for --topic and prints the same JSON the HTTP
service returns. With --report the per-article stages are included.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			run := appInstance.Execute(cmd.Context(), topic)
			appInstance.Logger().Debug("digest finished", zap.String("run_id", run.RunID), zap.Int("accepted", run.Accepted()))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			var payload any = run.Result
			if report {
				payload = run
			}
			if err := enc.Encode(payload); err != nil {
				return fmt.Errorf("write digest: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic to summarize")
	cmd.Flags().BoolVar(&report, "report", false, "print the full run report instead of the result")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}
