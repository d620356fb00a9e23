package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/mp4fit/pkg/convert"
	"github.com/psantana5/mp4fit/pkg/models"
)

var (
	convertOutDir  string
	convertName    string
	convertConsume bool
)

// convertCmd converts a single file in the foreground
var convertCmd = &cobra.Command{
	Use:   "convert <input>",
	Short: "Convert one file",
	Long: `Convert one video file and write the MP4 into the output directory.
The input is copied into the work directory first unless --consume is given,
in which case it is deleted when the conversion ends.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	flags := convertCmd.Flags()
	flags.StringVar(&convertOutDir, "out-dir", "", "output directory (default public_dir or the current directory)")
	flags.StringVar(&convertName, "name", "", "output file name (default: input name with .mp4)")
	flags.BoolVar(&convertConsume, "consume", false, "hand the input file over instead of copying it")
	flags.Int64("size-ceiling", 0, "mark artifacts above this many bytes as link-only")
	flags.String("preset", "", "libx264 preset or auto")
	flags.Int("width", 0, "target canvas width")
	flags.Int("height", 0, "target canvas height")
}

func runConvert(cmd *cobra.Command, args []string) error {
	defer logger.Close()
	input := args[0]

	oc := cfg.Orchestrator()
	oc.MaxConcurrentJobs = 1
	oc.PublicBaseURL = ""
	switch {
	case convertOutDir != "":
		oc.PublicDir = convertOutDir
	case oc.PublicDir == "":
		oc.PublicDir = "."
	}
	orch, err := newOrchestrator(oc, nil, nil)
	if err != nil {
		return err
	}

	name := convertName
	if name == "" {
		name = filepath.Base(input)
	}

	staged := input
	if !convertConsume {
		if staged, err = stageInput(input, oc.WorkDir); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := convert.NewChannelSink(16)
	key := models.JobKey{CallerID: "cli", InputID: filepath.Base(input)}
	if _, err := orch.Submit(ctx, convert.SubmitRequest{
		Key:        key,
		InputPath:  staged,
		OutputName: name,
		Sink:       sink,
	}); err != nil {
		if staged != input {
			os.Remove(staged)
		}
		return err
	}

	go func() {
		<-ctx.Done()
		orch.Cancel(key)
	}()

	var result *models.Result
	for u := range sink.C {
		switch {
		case u.Result != nil:
			result = u.Result
		case u.Progress != nil:
			printProgress(*u.Progress)
		default:
			if outputFormat == "table" {
				fmt.Fprintf(os.Stderr, "\n%s...", u.Status)
			}
		}
	}
	if outputFormat == "table" {
		fmt.Fprintln(os.Stderr)
	}
	orch.Shutdown(context.Background())

	printed, err := printStructured(os.Stdout, result)
	if err != nil {
		return err
	}
	if !printed {
		printResult(result)
	}
	if !result.Succeeded {
		return fmt.Errorf("conversion failed: %s", result.FailureKind)
	}
	return nil
}

// stageInput copies the caller's file into the work directory so the
// conversion can own and delete it
func stageInput(input, workDir string) (string, error) {
	src, err := os.Open(input)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	dst, err := os.CreateTemp(workDir, "input-*"+filepath.Ext(input))
	if err != nil {
		return "", fmt.Errorf("failed to stage input: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to stage input: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to stage input: %w", err)
	}
	return dst.Name(), nil
}

func printProgress(p models.Progress) {
	if outputFormat != "table" {
		return
	}
	if p.Percent == nil {
		fmt.Fprintf(os.Stderr, "\rencoding: %.0fs elapsed", p.Elapsed)
		return
	}
	fmt.Fprintf(os.Stderr, "\rencoding: %5.1f%%", *p.Percent)
}

func printResult(r *models.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"Job", r.Key.String()})
	table.Append([]string{"Succeeded", boolToYesNo(r.Succeeded)})
	table.Append([]string{"Encoder", r.Encoder})
	table.Append([]string{"Fell back", boolToYesNo(r.FellBack)})
	table.Append([]string{"Duration", r.Duration.Round(10*time.Millisecond).String()})
	if a := r.Artifact; a != nil {
		table.Append([]string{"Output", a.Path})
		table.Append([]string{"Size", fmt.Sprintf("%.2f MB", float64(a.SizeBytes)/(1024*1024))})
		table.Append([]string{"Link only", boolToYesNo(a.LinkOnly)})
		if a.PublicURL != "" {
			table.Append([]string{"URL", a.PublicURL})
		}
	}
	if r.DeliveryNote != "" {
		table.Append([]string{"Note", r.DeliveryNote})
	}
	if !r.Succeeded {
		table.Append([]string{"Failure", string(r.FailureKind)})
		table.Append([]string{"Detail", r.Detail})
	}
	table.Render()
}
