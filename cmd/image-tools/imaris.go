package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imcf/image-tools/internal/imaris"
	"github.com/imcf/image-tools/internal/notify"
	"github.com/imcf/image-tools/internal/status"
)

var (
	imarisExe    string
	imarisNotify string
	imarisStack  stackFlags
	imarisOut    string
)

var imarisCmd = &cobra.Command{
	Use:   "imaris",
	Short: "Locate and run the Imaris file converter",
}

var imarisLocateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Print the path of the newest installed ImarisConvert",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, err := imaris.Locate(cfg.Imaris.SearchPaths)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), exe)
		return nil
	},
}

var imarisConvertCmd = &cobra.Command{
	Use:   "convert FILE...",
	Short: "Convert image files to .ims next to the originals",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := converter()
		if err != nil {
			return err
		}

		start := time.Now()
		rep := newReporter()
		for i, path := range args {
			out, err := conv.ConvertFile(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			rep.ShowProgress(i, len(args))
		}
		elapsed := status.ElapsedTimeSince(start, time.Time{})
		rep.TimedLog(fmt.Sprintf("Converted %d files in %s", len(args), elapsed))

		return notifyJob(cmd, "Imaris conversion", args[len(args)-1], elapsed)
	},
}

var imarisStackCmd = &cobra.Command{
	Use:   "stack FILE...",
	Short: "Assemble plane files into a stack and convert it to a single .ims",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := converter()
		if err != nil {
			return err
		}
		s, err := imarisStack.load(args)
		if err != nil {
			return err
		}
		s.SanitizeTitle()

		start := time.Now()
		out, err := conv.ConvertStack(cmd.Context(), s, imarisOut)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return notifyJob(cmd, "Imaris conversion", out, status.ElapsedTimeSince(start, time.Time{}))
	},
}

// converter uses --converter or the newest installed ImarisConvert.
func converter() (*imaris.Converter, error) {
	exe := imarisExe
	if exe == "" {
		var err error
		if exe, err = imaris.Locate(cfg.Imaris.SearchPaths); err != nil {
			return nil, err
		}
	}
	logger.Debug().Str("exe", exe).Msg("using ImarisConvert")
	return imaris.New(exe, logger), nil
}

// notifyJob mails the --notify recipient, if any.
func notifyJob(cmd *cobra.Command, name, file, elapsed string) error {
	if imarisNotify == "" {
		return nil
	}
	m := notify.NewMailer(cfg.Mail, logger)
	return m.SendJobCompleted(cmd.Context(), notify.Job{
		Name:      name,
		Recipient: imarisNotify,
		File:      file,
		Elapsed:   elapsed,
	})
}

func init() {
	imarisCmd.PersistentFlags().StringVar(&imarisExe, "converter", "", "ImarisConvert executable (default: newest found on the search paths)")
	imarisCmd.PersistentFlags().StringVar(&imarisNotify, "notify", "", "Email address to notify when the conversion is done")

	imarisStack.register(imarisStackCmd)
	imarisStackCmd.Flags().StringVarP(&imarisOut, "out", "o", ".", "Output directory")

	imarisCmd.AddCommand(imarisLocateCmd, imarisConvertCmd, imarisStackCmd)
	rootCmd.AddCommand(imarisCmd)
}
