package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "pixkeep",
		Short: "Capture or fetch an image, keep it and serve it back",
		Long: `pixkeep acquires an image from the camera or a remote URL, stores it in
its private data directory and resolves it to a public URI that the bundled
web page can display.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the web page, the trigger endpoints and the network monitor",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "capture",
			Short: "Take one photo, persist it and print its public URI",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOnce(cmd, cfgPath, true, "")
			},
		},
		&cobra.Command{
			Use:   "fetch [url]",
			Short: "Download one image, persist it and print its public URI",
			Long:  "Download one image (the configured default URL when none is given), persist it and print its public URI.",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				url := ""
				if len(args) == 1 {
					url = args[0]
				}
				return runOnce(cmd, cfgPath, false, url)
			},
		},
	)
	return root
}
