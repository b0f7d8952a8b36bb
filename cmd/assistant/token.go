package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"assistant/pkg/config"
	"assistant/pkg/gateway"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a gateway access token",
	Long: `Issue an HS256 token signed with gateway.jwt_secret.

Pass it as "Authorization: Bearer <token>" to the REST API, or as the
token query parameter of /api/ws.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.NewLoader().Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		token, err := gateway.IssueToken(cfg.Gateway.JWTSecret, tokenSubject, tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error issuing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime (0 never expires)")
}
