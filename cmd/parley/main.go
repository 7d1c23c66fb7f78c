package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/parley/cmd/parley/internal"
	"github.com/tinyland-inc/parley/cmd/parley/internal/chat"
	"github.com/tinyland-inc/parley/cmd/parley/internal/onboard"
	"github.com/tinyland-inc/parley/cmd/parley/internal/status"
	"github.com/tinyland-inc/parley/cmd/parley/internal/version"
)

func NewParleyCommand() *cobra.Command {
	short := fmt.Sprintf("%s parley - Moderated messaging client v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "parley",
		Short:   short,
		Example: "parley chat",
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		chat.NewChatCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewParleyCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
