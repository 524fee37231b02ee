package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/cogserve/internal/cog"
	"github.com/kiesman99/cogserve/internal/render"
	"github.com/kiesman99/cogserve/internal/source"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a COG preview to a PNG file",
	Long: `Render a single preview image without starting the server.

Examples:
  # Preview a local 16-bit scene with a display rescale
  cogserve render --url scene.tif --rescale 0,4000 -o preview.png

  # Apply a color formula and write to stdout
  cogserve render --url https://example.com/scene.tif --color-formula "gamma rgb 1.8 saturation 1.2"`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringP("url", "u", "", "raster path or URL (required)")
	renderCmd.Flags().String("rescale", "", "per-band display range, e.g. 0,4000 or 0,4000;0,3000;0,2500")
	renderCmd.Flags().String("color-formula", "", "post-processing formula, e.g. 'gamma rgb 1.8'")
	renderCmd.Flags().Int("max-size", 1024, "longest output side in pixels")
	renderCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	renderCmd.MarkFlagRequired("url")
}

func runRender(cmd *cobra.Command, args []string) error {
	rawURL, _ := cmd.Flags().GetString("url")
	rescaleArg, _ := cmd.Flags().GetString("rescale")
	formulaArg, _ := cmd.Flags().GetString("color-formula")
	maxSize, _ := cmd.Flags().GetInt("max-size")
	output, _ := cmd.Flags().GetString("output")

	ranges, err := render.ParseRescale(rescaleArg)
	if err != nil {
		return err
	}
	formula, err := render.ParseColorFormula(formulaArg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rd, src, err := openCOG(ctx, rawURL)
	if err != nil {
		return err
	}
	defer src.Close()

	raster, err := rd.ReadPreview(ctx, maxSize)
	if err != nil {
		return err
	}
	img8, err := render.Rescale(raster, ranges)
	if err != nil {
		return err
	}
	if err := formula.Apply(img8); err != nil {
		return err
	}
	img, err := render.Compose(img8)
	if err != nil {
		return err
	}
	png, err := render.EncodePNG(render.FitWithin(img, maxSize))
	if err != nil {
		return err
	}

	if output == "" {
		_, err = os.Stdout.Write(png)
		return err
	}
	if err := os.WriteFile(output, png, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", output, len(png))
	return nil
}

// openCOG resolves a reference against the configured data root and parses
// it, sharing the resolver rules with the server.
func openCOG(ctx context.Context, rawURL string) (*cog.Reader, source.RangeReader, error) {
	resolver := source.NewResolver(viper.GetString("data.root"), nil)
	if !viper.GetBool("cache.disabled") {
		cache, err := source.NewBlockCache(viper.GetInt64("cache.block_size"), viper.GetInt("cache.max_blocks"))
		if err == nil {
			resolver.Cache = cache
		}
	}

	src, err := resolver.Resolve(rawURL)
	if err != nil {
		return nil, nil, err
	}
	rd, err := cog.Open(ctx, src)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return rd, src, nil
}
