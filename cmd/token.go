package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillhq/quill/internal/api"
	"github.com/quillhq/quill/internal/config"
)

var (
	tokenTenant string
	tokenUser   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an identity token for the identified surface",
	Long: `Mint a signed identity token binding a user to a tenant. The token
authorizes POST /v1/tenants/{tenant}/rooms/{room}/stream and is only
valid for the tenant it was minted for.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.HMACSecret == "" {
			return config.ErrMissingHMACSecret
		}
		fmt.Println(api.SignIdentity(cfg.HMACSecret, tokenTenant, tokenUser))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant ID the token is scoped to")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user ID the token asserts")
	_ = tokenCmd.MarkFlagRequired("tenant")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
