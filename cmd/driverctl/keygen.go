package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emberwood/driver/internal/session"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an admin console signing key (ES256 P-256)",
		Long:  "Generates an ECDSA P-256 private key for signing admin console JWTs and prints it as base64-DER.\nUse with: driverd --admin-key=<output> and driverctl --admin-key=<output>",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, encoded, err := session.GenerateAdminKey()
			if err != nil {
				return err
			}
			fmt.Println(encoded)
			return nil
		},
	}
}
