package cmd

import (
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
)

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for web push",
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return fmt.Errorf("failed to generate VAPID keys: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "PUSH_VAPID_PUBLIC_KEY=%s\n", publicKey)
		fmt.Fprintf(out, "PUSH_VAPID_PRIVATE_KEY=%s\n", privateKey)
		return nil
	},
}
