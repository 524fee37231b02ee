package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check whether a raster is laid out as a cloud-optimized GeoTIFF",
	Long: `Parse a raster's structure and report COG layout problems as JSON.

The command exits non-zero when the file cannot serve efficient ranged reads
(for example when the full-resolution image is striped instead of tiled).

Examples:
  cogserve validate --url scene.tif
  cogserve validate --url https://example.com/scene.tif`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("url", "u", "", "raster path or URL (required)")
	validateCmd.MarkFlagRequired("url")
}

func runValidate(cmd *cobra.Command, args []string) error {
	rawURL, _ := cmd.Flags().GetString("url")

	rd, src, err := openCOG(context.Background(), rawURL)
	if err != nil {
		return err
	}
	defer src.Close()

	report := rd.Validate()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	if !report.Valid {
		fmt.Fprintln(cmd.ErrOrStderr(), "not a valid cloud-optimized GeoTIFF")
		os.Exit(1)
	}
	return nil
}
