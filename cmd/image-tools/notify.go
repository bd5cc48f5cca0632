package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imcf/image-tools/internal/notify"
	"github.com/imcf/image-tools/internal/status"
)

var (
	notifyJobName string
	notifyTo      string
	notifyFile    string
	notifyStarted string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send a job-completion email",
	Long: "Send a job-completion email through the configured SMTP server. " +
		"Nothing is sent when the sender or server is not configured.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		elapsed := "unknown"
		if notifyStarted != "" {
			start, err := time.Parse(time.RFC3339, notifyStarted)
			if err != nil {
				return fmt.Errorf("invalid --started: %w", err)
			}
			elapsed = status.ElapsedTimeSince(start, time.Time{})
		}

		if !cfg.Mail.Configured() {
			logger.Warn().Msg("mail sender or SMTP server not configured, nothing sent")
		}
		m := notify.NewMailer(cfg.Mail, logger)
		return m.SendJobCompleted(cmd.Context(), notify.Job{
			Name:      notifyJobName,
			Recipient: notifyTo,
			File:      notifyFile,
			Elapsed:   elapsed,
		})
	},
}

func init() {
	notifyCmd.Flags().StringVar(&notifyJobName, "job", "", "Name of the finished job")
	notifyCmd.Flags().StringVar(&notifyTo, "to", "", "Recipient address")
	notifyCmd.Flags().StringVar(&notifyFile, "file", "", "File the job processed")
	notifyCmd.Flags().StringVar(&notifyStarted, "started", "", "Job start time (RFC 3339) used for the elapsed time")
	_ = notifyCmd.MarkFlagRequired("job")
	_ = notifyCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(notifyCmd)
}
