// Command ema-demo runs a spoken, interruptible product demo in a browser.
package main

import (
	"fmt"
	"os"

	"github.com/koscakluka/ema-demo/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var tel *telemetry

	root := &cobra.Command{
		Use:   "ema-demo",
		Short: "Voice driven website demos that can be interrupted",
		Long: `ema-demo walks through a website on its own, narrating as it goes.
Ask a question or give a command at any time and it pauses to handle it.
Say "resume" to continue or "stop demo" to end the session.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logFile, err := cmd.Flags().GetString("log-file")
			if err != nil {
				return err
			}
			tel, err = setupTelemetry(logFile)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if tel == nil {
				return nil
			}
			return tel.Shutdown(cmd.Context())
		},
	}

	root.PersistentFlags().String("config", "", "config file (default ./"+config.FileName+")")
	root.PersistentFlags().String("log-file", "", "write structured logs to this file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newConfigCmd())
	return root
}
