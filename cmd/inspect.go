package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tbprogress/internal/tfevents"
)

// newInspectCmd creates the 'inspect' subcommand, which dumps an event file
// after verifying every record checksum.
func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "inspect <event file>",
		Short:       "Print the events stored in an event file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE:        runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	events, err := tfevents.ReadFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, evt := range events {
		ts := evt.Time().Format(time.RFC3339)
		switch {
		case evt.FileVersion != "":
			fmt.Fprintf(out, "%s file_version %s\n", ts, evt.FileVersion)
		case len(evt.GraphDef) > 0:
			fmt.Fprintf(out, "%s graph_def %d bytes\n", ts, len(evt.GraphDef))
		default:
			for _, v := range evt.Summary {
				fmt.Fprintf(out, "%s step=%d %s=%g\n", ts, evt.Step, v.Tag, v.SimpleValue)
			}
		}
	}
	counts.Fprintf(out, "%d events\n", len(events))
	return nil
}
