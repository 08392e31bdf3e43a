package main

import (
	"fmt"
	"time"

	srv "github.com/mohammad-safakhou/docrelay/internal/server"
	"github.com/spf13/cobra"
)

// tokenCMD issues a bearer JWT signed with server.jwt_secret, or with --hash
// prints the bcrypt hash of an API key for server.api_key_hash.
func tokenCMD() *cobra.Command {
	var cfgPath, subject, hashKey string
	var ttl time.Duration
	var token = &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token or hash an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hashKey != "" {
				h, err := srv.HashAPIKey(hashKey)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), h)
				return nil
			}
			cfg, _, err := setup(cfgPath)
			if err != nil {
				return err
			}
			signed, err := srv.SignToken(subject, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "docrelay-client", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.Flags().StringVar(&hashKey, "hash", "", "print the bcrypt hash of this API key instead")
	token.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return token
}
