package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/cogserve/internal/config"
)

// Version is stamped at build time.
var Version = "1.0.0-dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cogserve",
	Short: "Dynamic preview and tile server for cloud-optimized GeoTIFFs",
	Long: `cogserve reads cloud-optimized GeoTIFFs through ranged access and turns
them into PNG previews and XYZ map tiles on the fly. Rasters can live on local
disk or behind any HTTP server that answers Range requests.

Examples:
  # Start the HTTP server on the default port
  cogserve serve --data-root /srv/rasters

  # Render a rescaled preview of a 16-bit scene to a file
  cogserve render --url scene.tif --rescale 0,4000 --color-formula "gamma rgb 1.8" -o preview.png

  # Check whether a file is laid out as a proper COG
  cogserve validate --url https://example.com/scene.tif`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cogserve.yaml)")
	rootCmd.PersistentFlags().String("data-root", ".", "directory local raster references are resolved against")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console|json)")

	viper.BindPFlag("data.root", rootCmd.PersistentFlags().Lookup("data-root"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and environment variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cogserve")
	}

	config.BindEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
