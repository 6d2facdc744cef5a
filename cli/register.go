package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cppla/livewell/liveness"
)

type RegisterOptions struct {
	*RootOptions
	Name          string
	Email         string
	Phone         string
	Language      string
	GuardianName  string
	GuardianEmail string
}

func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create the local subject and push it to the server",
		Long: `Create (or update) the subject in the local state file, name the first
guardian and push the snapshot to the server.

Example:
  livewell register --name Sam --guardian-email mum@example.com --lang en`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.Name) == "" {
				return NewExitError(ExitCommandError, "--name is required")
			}
			if !strings.Contains(opts.GuardianEmail, "@") {
				return NewExitError(ExitCommandError, "--guardian-email must be an email address")
			}
			if opts.Language != "zh" && opts.Language != "en" {
				return NewExitError(ExitCommandError, fmt.Sprintf("--lang must be zh or en, got %q", opts.Language))
			}

			s, ok, err := LoadState(opts.StatePath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read state", err)
			}
			if !ok {
				s = liveness.NewState()
			}
			s = s.WithProfile(opts.Name, opts.Email, opts.Phone, opts.Language).
				Register(opts.Language, opts.Name, opts.GuardianName, opts.GuardianEmail)

			if err := SaveState(opts.StatePath, s); err != nil {
				return WrapExitError(ExitCommandError, "failed to save state", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", s.UserID)
			return pushNow(cmd.Context(), opts.RootOptions, s)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "your name as shown to the guardian (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "your own email")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "your own phone number")
	cmd.Flags().StringVar(&opts.Language, "lang", "zh", "alert language (zh|en)")
	cmd.Flags().StringVar(&opts.GuardianName, "guardian-name", "", "guardian's name")
	cmd.Flags().StringVar(&opts.GuardianEmail, "guardian-email", "", "guardian's email (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("guardian-email")

	return cmd
}
