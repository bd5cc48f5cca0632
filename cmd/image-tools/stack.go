package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imcf/image-tools/internal/export"
	"github.com/imcf/image-tools/internal/imaging"
	"github.com/imcf/image-tools/internal/results"
)

// stackFlags describe how plane files are assembled into a stack.
type stackFlags struct {
	title    string
	channels int
	slices   int
	frames   int
}

func (f *stackFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Stack title (default: first file name)")
	cmd.Flags().IntVarP(&f.channels, "channels", "c", 1, "Number of channels")
	cmd.Flags().IntVarP(&f.slices, "slices", "z", 0, "Number of Z slices (default: files / (channels * frames))")
	cmd.Flags().IntVarP(&f.frames, "frames", "t", 1, "Number of time frames")
}

func (f *stackFlags) load(paths []string) (*imaging.Stack, error) {
	slices := f.slices
	if slices == 0 && f.channels > 0 && f.frames > 0 {
		slices = len(paths) / (f.channels * f.frames)
	}
	s, err := imaging.LoadStack(imaging.NewPlaneCache(), f.title, paths, f.channels, slices, f.frames)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("title", s.Title).Ints("dims", dims(s)).Msg("stack loaded")
	return s, nil
}

func dims(s *imaging.Stack) []int {
	d := s.Dimensions()
	return d[:]
}

var (
	focusFlags    stackFlags
	focusMethod   string
	focusPerFrame bool
)

var focusCmd = &cobra.Command{
	Use:   "focus FILE...",
	Short: "Find the best focused Z slice of a single-channel stack",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, err := imaging.ParseFocusMethod(focusMethod)
		if err != nil {
			return err
		}
		s, err := focusFlags.load(args)
		if err != nil {
			return err
		}
		best, err := imaging.FindFocusPerFrame(s, method)
		if err != nil {
			return err
		}
		if !focusPerFrame {
			best = best[len(best)-1:]
		}
		for _, z := range best {
			fmt.Fprintln(cmd.OutOrStdout(), z)
		}
		return nil
	},
}

var (
	statsFlags  stackFlags
	statsAppend string
)

var statsCmd = &cobra.Command{
	Use:   "stats FILE...",
	Short: "Print per-plane mean, standard deviation, minimum and maximum as CSV",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := statsFlags.load(args)
		if err != nil {
			return err
		}
		planes, err := imaging.StackStatistics(s)
		if err != nil {
			return err
		}

		table := results.NewTable()
		for _, p := range planes {
			table.AddRow(p.Row(s.Title))
		}

		if statsAppend != "" {
			if err := results.AppendCSV(statsAppend, table.Rows()...); err != nil {
				return err
			}
			logger.Info().Str("file", statsAppend).Int("rows", table.Len()).Msg("results appended")
			return nil
		}
		return table.WriteCSV(cmd.OutOrStdout())
	},
}

var (
	thresholdFlags  stackFlags
	thresholdMethod string
	thresholdMask   string
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold FILE...",
	Short: "Compute an automatic threshold and optionally save the mask",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := thresholdFlags.load(args)
		if err != nil {
			return err
		}
		level, err := imaging.ThresholdValue(s, thresholdMethod)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), level)

		if thresholdMask == "" {
			return nil
		}
		mask, err := imaging.ApplyThreshold(s, level)
		if err != nil {
			return err
		}
		files, err := export.Save(mask, thresholdMask, "tif", export.DefaultOptions())
		if err != nil {
			return err
		}
		logger.Info().Int("files", len(files)).Str("dir", thresholdMask).Msg("mask saved")
		return nil
	},
}

var (
	subtractFlags      stackFlags
	subtractBackground []string
	subtractOut        string
)

var subtractCmd = &cobra.Command{
	Use:   "subtract FILE... --background FILE...",
	Short: "Subtract a background stack and save the result as TIFF",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := subtractFlags.load(args)
		if err != nil {
			return err
		}
		bgFlags := subtractFlags
		bgFlags.title = "background"
		bg, err := bgFlags.load(subtractBackground)
		if err != nil {
			return fmt.Errorf("background: %w", err)
		}
		out, err := imaging.Subtract(s, bg)
		if err != nil {
			return err
		}
		out.SanitizeTitle()
		files, err := export.Save(out, subtractOut, "tif", export.DefaultOptions())
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

var (
	saveFlags stackFlags
	saveOut   string
	saveFmt   string
	saveOpts  = export.DefaultOptions()
)

var saveCmd = &cobra.Command{
	Use:   "save FILE...",
	Short: "Assemble plane files into a stack and write it in another format",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := saveFlags.load(args)
		if err != nil {
			return err
		}
		files, err := export.Save(s, saveOut, saveFmt, saveOpts)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize TITLE...",
	Short: "Print image titles with special characters removed",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, title := range args {
			fmt.Fprintln(cmd.OutOrStdout(), imaging.SanitizeTitle(title))
		}
	},
}

func init() {
	focusFlags.register(focusCmd)
	focusCmd.Flags().StringVar(&focusMethod, "method", string(imaging.FocusVariance), "Sharpness score (variance, tenengrad)")
	focusCmd.Flags().BoolVar(&focusPerFrame, "per-frame", false, "Print the best slice of every frame")

	statsFlags.register(statsCmd)
	statsCmd.Flags().StringVar(&statsAppend, "append", "", "Append the rows to this CSV file instead of printing them")

	thresholdFlags.register(thresholdCmd)
	thresholdCmd.Flags().StringVar(&thresholdMethod, "method", "otsu", "Auto-threshold method")
	thresholdCmd.Flags().StringVar(&thresholdMask, "mask", "", "Directory to save the thresholded mask in")

	subtractFlags.register(subtractCmd)
	subtractCmd.Flags().StringSliceVar(&subtractBackground, "background", nil, "Plane files of the background stack")
	subtractCmd.Flags().StringVarP(&subtractOut, "out", "o", ".", "Output directory")
	_ = subtractCmd.MarkFlagRequired("background")

	saveFlags.register(saveCmd)
	saveCmd.Flags().StringVarP(&saveOut, "out", "o", ".", "Output directory")
	saveCmd.Flags().StringVarP(&saveFmt, "format", "f", "tif", "Output format (tif, png, jpg, gif, bmp)")
	saveCmd.Flags().BoolVar(&saveOpts.SplitChannels, "split-channels", false, "Write each channel into a C<n> subdirectory")
	saveCmd.Flags().IntVar(&saveOpts.Series, "series", -1, "Series number added to file names (negative to omit)")
	saveCmd.Flags().IntVar(&saveOpts.Pad, "pad", 0, "Digits the series number is padded to")
	saveCmd.Flags().BoolVar(&saveOpts.Composite, "composite", false, "Merge the channels of each plane into one RGB image")
	saveCmd.Flags().StringSliceVar(&saveOpts.Colors, "colors", nil, "Channel colours (#RRGGBB) for composites")
	saveCmd.Flags().IntVar(&saveOpts.JPEGQuality, "quality", 95, "JPEG quality")

	rootCmd.AddCommand(focusCmd, statsCmd, thresholdCmd, subtractCmd, saveCmd, sanitizeCmd)
}
