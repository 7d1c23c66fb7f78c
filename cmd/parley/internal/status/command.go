package status

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/parley/cmd/parley/internal"
	"github.com/tinyland-inc/parley/pkg/auth"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and credential status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return statusCmd()
		},
	}
}

func statusCmd() error {
	fmt.Printf("%s parley status\n\n", internal.Logo)

	cfgPath := internal.GetConfigPath()
	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Printf("Config:     %s (INVALID: %v)\n", cfgPath, err)
		return err
	}
	fmt.Printf("Config:     %s\n", cfgPath)
	fmt.Printf("API base:   %s\n", cfg.Server.APIBase)
	fmt.Printf("Channel:    %s\n", cfg.Server.WSURL)
	fmt.Printf("Moderation: %s (max %d attempts)\n", cfg.Moderation.Path, cfg.Moderation.MaxAttempts)

	credPath := internal.GetCredentialPath()
	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		fmt.Printf("Credential: none (run 'parley onboard')\n")
		return nil
	}
	cred, err := auth.Load(credPath)
	if err != nil {
		fmt.Printf("Credential: %s (UNREADABLE: %v)\n", credPath, err)
		return nil
	}
	fmt.Printf("Credential: %s (user %s)\n", credPath, cred.UserID)
	return nil
}
