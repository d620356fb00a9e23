package cmd

import (
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/mp4fit/pkg/agent"
)

// detectCmd reports which H.264 encoders work on this host
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect usable H.264 encoders",
	Long: `List the H.264 encoders ffmpeg advertises and run a short test encode with
each hardware encoder to find out which ones actually work.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	defer logger.Close()
	capability := newDetector(nil).Detect(cmd.Context())
	if printed, err := printStructured(os.Stdout, capability); printed || err != nil {
		return err
	}

	encoders := append([]string(nil), capability.Advertised...)
	sort.Strings(encoders)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Encoder", "Usable", "Selected", "Reason")
	for _, enc := range encoders {
		table.Append([]string{
			enc,
			boolToYesNo(capability.Usable[enc]),
			boolToYesNo(enc == capability.Encoder),
			capability.Reasons[enc],
		})
	}
	selected := capability.Encoder == agent.SoftwareEncoder
	reason := "always available"
	if selected {
		reason = capability.Reason()
	}
	table.Append([]string{agent.SoftwareEncoder, "Yes", boolToYesNo(selected), reason})
	table.Render()
	return nil
}
