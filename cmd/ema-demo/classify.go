package main

import (
	"fmt"
	"strings"

	"github.com/koscakluka/ema-demo/core/utterances"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <phrase>...",
		Short: "Show how a spoken phrase would be classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			classification := utterances.Classify(text)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "text:  %s\n", utterances.Normalize(text))
			fmt.Fprintf(out, "kind:  %s\n", classification.Kind)
			if classification.StopReason != utterances.StopReasonNone {
				fmt.Fprintf(out, "stop:  %s\n", classification.StopReason)
			}
			if n := utterances.WordCount(text); n < 2 && !classification.Kind.IsControl() {
				fmt.Fprintf(out, "note:  %d word, discarded as noise when spoken\n", n)
			}
			return nil
		},
	}
}
