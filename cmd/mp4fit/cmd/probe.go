package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/mp4fit/pkg/agent"
	"github.com/psantana5/mp4fit/pkg/models"
	"github.com/psantana5/mp4fit/pkg/probe"
)

// probeCmd prints what ffprobe reports for a file
var probeCmd = &cobra.Command{
	Use:   "probe <input>",
	Short: "Probe a media file",
	Long:  `Probe a media file and show its stream properties and how it would be fitted into the target canvas.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

// planCmd prints the ffmpeg command a conversion would run
var planCmd = &cobra.Command{
	Use:   "plan <input>",
	Short: "Show the encode command for a file",
	Long:  `Probe a file, detect the encoder and print the ffmpeg invocation a conversion would run, without running it.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(planCmd)

	for _, c := range []*cobra.Command{probeCmd, planCmd} {
		c.Flags().Int("width", 0, "target canvas width")
		c.Flags().Int("height", 0, "target canvas height")
	}
	planCmd.Flags().String("preset", "", "libx264 preset or auto")
}

type probeReport struct {
	Probe    *models.MediaProbe `json:"probe" yaml:"probe"`
	Geometry agent.Geometry     `json:"geometry" yaml:"geometry"`
	Filter   string             `json:"filter,omitempty" yaml:"filter,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	defer logger.Close()
	target := cfg.Target()
	media, err := probe.New(cfg.FFprobePath, target, logger).Probe(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	geom := agent.PlanGeometry(media.Width, media.Height, target.Width, target.Height)
	report := probeReport{Probe: media, Geometry: geom, Filter: geom.Filter()}
	if printed, err := printStructured(os.Stdout, report); printed || err != nil {
		return err
	}

	duration := "unknown"
	if media.DurationKnown() {
		duration = fmt.Sprintf("%.2fs", media.DurationSeconds)
	}
	audio := "none"
	if media.HasAudio {
		audio = media.AudioCodec
	}
	filter := report.Filter
	if geom.IsNoop() {
		filter = "none"
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"Container", media.FormatName})
	table.Append([]string{"Video", fmt.Sprintf("%s %dx%d", media.VideoCodec, media.Width, media.Height)})
	table.Append([]string{"Audio", audio})
	table.Append([]string{"Duration", duration})
	table.Append([]string{"Target", target.String()})
	table.Append([]string{"Scaled", fmt.Sprintf("%dx%d", geom.ScaledW, geom.ScaledH)})
	table.Append([]string{"Padding", fmt.Sprintf("x=%d y=%d", geom.PadX, geom.PadY)})
	table.Append([]string{"Filter", filter})
	table.Render()
	return nil
}

type planReport struct {
	Encoder     string   `json:"encoder" yaml:"encoder"`
	Hardware    bool     `json:"hardware" yaml:"hardware"`
	Filter      string   `json:"filter" yaml:"filter"`
	Args        []string `json:"args" yaml:"args"`
	CommandLine string   `json:"command_line" yaml:"command_line"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	defer logger.Close()
	ctx := cmd.Context()
	target := cfg.Target()
	media, err := probe.New(cfg.FFprobePath, target, logger).Probe(ctx, args[0])
	if err != nil {
		return err
	}

	opts, _ := cfg.EncodeOptions()
	profile := agent.ProfileFor(newDetector(nil).Detect(ctx), opts)
	geom := agent.PlanGeometry(media.Width, media.Height, target.Width, target.Height)
	plan, err := agent.BuildPlan(args[0], "output.mp4", media, geom, profile)
	if err != nil {
		return err
	}

	report := planReport{
		Encoder:     profile.Codec,
		Hardware:    profile.IsHardware,
		Filter:      plan.Filter,
		Args:        plan.Args,
		CommandLine: plan.CommandLine(cfg.FFmpegPath),
	}
	if printed, err := printStructured(os.Stdout, report); printed || err != nil {
		return err
	}
	fmt.Printf("Encoder: %s (hardware: %s)\n", report.Encoder, boolToYesNo(report.Hardware))
	fmt.Printf("Filter:  %s\n", report.Filter)
	fmt.Println(report.CommandLine)
	return nil
}
