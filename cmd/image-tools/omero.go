package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imcf/image-tools/internal/export"
	"github.com/imcf/image-tools/internal/omero"
	"github.com/imcf/image-tools/internal/results"
	"github.com/imcf/image-tools/internal/roi"
	"github.com/imcf/image-tools/internal/status"
)

var omeroCmd = &cobra.Command{
	Use:   "omero",
	Short: "Work with images on an OMERO server",
}

// connectOmero opens a session or ends the process. The session must be
// closed by the caller.
func connectOmero(ctx context.Context) *omero.Client {
	if cfg.Omero.Host == "" {
		status.ErrorExit(logger, "No OMERO host configured (set omero.host or IMAGE_TOOLS_OMERO_HOST)")
	}
	c, err := omero.Connect(ctx, cfg.Omero, logger)
	if err != nil {
		status.ErrorExit(logger, fmt.Sprintf("Failed to connect to %s: %v", cfg.Omero.Host, err))
	}
	return c
}

func closeOmero(c *omero.Client) {
	// The command context may already be cancelled.
	if err := c.Close(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("failed to close OMERO session")
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

var omeroParseCmd = &cobra.Command{
	Use:   "parse LINK|IDS",
	Short: "Print the image IDs of a web client link or a comma-separated list",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, id := range omero.ParseImageIDs(args[0]) {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
	},
}

var (
	fetchOut    string
	fetchFormat string
	fetchGroup  int64
	fetchSplit  bool
)

var omeroFetchCmd = &cobra.Command{
	Use:   "fetch LINK|IDS",
	Short: "Download images, or all images of linked datasets, and save them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := omero.ParseTargets(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		c := connectOmero(ctx)
		defer closeOmero(c)

		ids, err := c.ResolveImageIDs(ctx, targets)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("no images found in %q", args[0])
		}

		group := cfg.Omero.GroupID
		if cmd.Flags().Changed("group") {
			group = fetchGroup
		}
		opts := export.DefaultOptions()
		opts.SplitChannels = fetchSplit

		rep := newReporter()
		failed := 0
		for i, id := range ids {
			rep.ShowProgress(i, len(ids))
			s, err := c.FetchImage(ctx, id, group)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error().Err(err).Int64("image", id).Msg("fetch failed")
				failed++
				continue
			}
			s.SanitizeTitle()
			files, err := export.Save(s, fetchOut, fetchFormat, opts)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			logger.Debug().Int64("free_memory", status.FreeMemory()).Msg("image saved")
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d images could not be fetched", failed, len(ids))
		}
		return nil
	},
}

var uploadDataset int64

var omeroUploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Import image files into a dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := connectOmero(ctx)
		defer closeOmero(c)

		rep := newReporter()
		for i, path := range args {
			ids, err := c.UploadImage(ctx, path, uploadDataset)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tImage:%d\n", path, id)
			}
			rep.ShowProgress(i, len(args))
		}
		return nil
	},
}

var (
	kvHeader string
	kvDelete bool
)

var omeroKVCmd = &cobra.Command{
	Use:   "kv IMAGE-ID [KEY=VALUE...]",
	Short: "List, add or delete key-value pairs of an image",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imageID, err := parseID(args[0])
		if err != nil {
			return err
		}
		pairs := make([][2]string, 0, len(args)-1)
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("expected KEY=VALUE, got %q", kv)
			}
			pairs = append(pairs, [2]string{k, v})
		}

		ctx := cmd.Context()
		c := connectOmero(ctx)
		defer closeOmero(c)

		switch {
		case kvDelete:
			n, err := c.DeleteKeyValues(ctx, imageID, omero.NSClientMapAnnotation)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d annotations\n", n)
		case len(pairs) > 0:
			id, err := c.AddKeyValues(ctx, imageID, kvHeader, pairs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "MapAnnotation:%d\n", id)
		default:
			anns, err := c.KeyValues(ctx, imageID)
			if err != nil {
				return err
			}
			for _, a := range anns {
				for _, kv := range a.Values {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", kv[0], kv[1])
				}
			}
		}
		return nil
	},
}

var (
	tableName string
	tableGet  int64
)

var omeroTableCmd = &cobra.Command{
	Use:   "table IMAGE-ID [CSV]",
	Short: "Attach a CSV results table to an image, or list and download tables",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		imageID, err := parseID(args[0])
		if err != nil {
			return err
		}

		var upload *results.Table
		if len(args) == 2 {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			upload, err = results.ReadCSV(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}
			if tableName == "" {
				tableName = strings.TrimSuffix(args[1][strings.LastIndexAny(args[1], `/\`)+1:], ".csv")
			}
		}

		ctx := cmd.Context()
		c := connectOmero(ctx)
		defer closeOmero(c)

		switch {
		case upload != nil:
			return c.UploadTable(ctx, imageID, tableName, upload)
		case tableGet > 0:
			t, err := c.Table(ctx, tableGet)
			if err != nil {
				return err
			}
			return t.WriteCSV(cmd.OutOrStdout())
		default:
			anns, err := c.Tables(ctx, imageID)
			if err != nil {
				return err
			}
			for _, a := range anns {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", a.ID, a.File.Name)
			}
			return nil
		}
	},
}

var roisPut string

var omeroROIsCmd = &cobra.Command{
	Use:   "rois IMAGE-ID",
	Short: "Print the ROIs of an image as JSON, or save ROIs from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imageID, err := parseID(args[0])
		if err != nil {
			return err
		}

		var put []roi.ROI
		if roisPut != "" {
			data, err := os.ReadFile(roisPut)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &put); err != nil {
				return fmt.Errorf("%s: %w", roisPut, err)
			}
		}

		ctx := cmd.Context()
		c := connectOmero(ctx)
		defer closeOmero(c)

		if roisPut != "" {
			ids, err := c.SaveROIs(ctx, imageID, put)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "Roi:%d\n", id)
			}
			return nil
		}

		rois, err := c.ROIs(ctx, imageID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rois)
	},
}

func init() {
	omeroFetchCmd.Flags().StringVarP(&fetchOut, "out", "o", ".", "Output directory")
	omeroFetchCmd.Flags().StringVarP(&fetchFormat, "format", "f", "tif", "Output format")
	omeroFetchCmd.Flags().Int64Var(&fetchGroup, "group", -1, "Group to read from (default: configured group)")
	omeroFetchCmd.Flags().BoolVar(&fetchSplit, "split-channels", false, "Write each channel into a C<n> subdirectory")

	omeroUploadCmd.Flags().Int64Var(&uploadDataset, "dataset", 0, "Target dataset ID")
	_ = omeroUploadCmd.MarkFlagRequired("dataset")

	omeroKVCmd.Flags().StringVar(&kvHeader, "header", "", "Description stored with new pairs")
	omeroKVCmd.Flags().BoolVar(&kvDelete, "delete", false, "Delete the image's key-value annotations")

	omeroTableCmd.Flags().StringVar(&tableName, "name", "", "Table name (default: CSV file name)")
	omeroTableCmd.Flags().Int64Var(&tableGet, "get", 0, "Download the table with this annotation ID as CSV")

	omeroROIsCmd.Flags().StringVar(&roisPut, "put", "", "JSON file of ROIs to save")

	omeroCmd.AddCommand(omeroParseCmd, omeroFetchCmd, omeroUploadCmd, omeroKVCmd, omeroTableCmd, omeroROIsCmd)
	rootCmd.AddCommand(omeroCmd)
}
