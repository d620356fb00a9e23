package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/mp4fit/internal/config"
	"github.com/psantana5/mp4fit/pkg/logging"
)

var (
	cfgFile      string
	outputFormat string

	// cfg and logger are populated before any subcommand runs
	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mp4fit",
	Short: "Convert videos into chat-friendly MP4 files",
	Long: `mp4fit converts arbitrary video files into H.264/AAC MP4 files fitted into a
fixed canvas. It uses a functionally verified hardware encoder when one is
available and falls back to libx264 when the hardware encode fails.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./mp4fit.yaml, $HOME/.mp4fit/mp4fit.yaml or /etc/mp4fit/mp4fit.yaml)")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	flags.String("ffmpeg-path", "", "ffmpeg binary (default from config or ffmpeg)")
	flags.String("ffprobe-path", "", "ffprobe binary (default: next to ffmpeg)")
	flags.String("hwaccel", "", "encoder preference: auto, nvenc, qsv, vaapi or none")
	flags.String("work-dir", "", "directory for transient files")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("log-json", false, "log in JSON format")
}

// loadConfig merges config file, environment and flags for the command being run
func loadConfig(cmd *cobra.Command, args []string) error {
	switch outputFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}

	v := viper.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err = cfg.NewLogger("mp4fit")
	if err != nil {
		return err
	}
	// stdout carries command output
	if cfg.Log.Dir == "" {
		logger.SetOutput(os.Stderr)
	}
	return nil
}

// printStructured writes v as JSON or YAML. It reports false for table
// output so the caller can render its own table.
func printStructured(w io.Writer, v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return true, encoder.Encode(v)
	default:
		return false, nil
	}
}

func boolToYesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
