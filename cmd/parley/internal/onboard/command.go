package onboard

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/parley/cmd/parley/internal"
	"github.com/tinyland-inc/parley/pkg/auth"
	"github.com/tinyland-inc/parley/pkg/config"
)

func NewOnboardCommand() *cobra.Command {
	var userID string
	var displayName string

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Set up config and session credential",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return onboardCmd(userID, displayName)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Your parley user id")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name shown to counterparts")
	cmd.MarkFlagRequired("user")

	return cmd
}

func onboardCmd(userID, displayName string) error {
	cfgPath := internal.GetConfigPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(cfgPath, config.DefaultConfig()); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("%s Wrote default config to %s\n", internal.Logo, cfgPath)
	} else {
		fmt.Printf("%s Config already exists at %s, leaving it alone\n", internal.Logo, cfgPath)
	}

	cred, err := auth.LoginPasteToken(userID, os.Stdin)
	if err != nil {
		return err
	}
	cred.DisplayName = displayName

	credPath := internal.GetCredentialPath()
	if err := auth.Save(credPath, cred); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	fmt.Printf("%s Credential saved to %s\n", internal.Logo, credPath)
	fmt.Println("You're set. Start chatting with: parley chat --with <user-id>")
	return nil
}
