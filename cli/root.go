package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	StatePath string
	Server    string
	Format    string // "text" | "json"
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the livewell command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "livewell",
		Short: "Live Well - daily check-in with guardian alerts",
		Long: `Live Well is a dead man's switch. The subject checks in every day; when a
check-in is overdue the sweep emails the primary guardian once per missed period.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	server := os.Getenv("LIVEWELL_SERVER")
	if server == "" {
		server = "http://127.0.0.1:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.StatePath, "state", "livewell-state.json", "path to the local subject state file")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "base URL of the sync server")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewCheckInCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// Execute runs the command tree against os.Args and returns the exit code.
func Execute() int {
	err := NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return GetExitCode(err)
}
