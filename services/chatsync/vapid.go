package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/supportchat/internal/alert"
)

func newVAPIDCmd() *cobra.Command {
	var opts struct {
		File  string
		Print bool
	}
	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "Generate VAPID keys for web push",
		Long:  "Loads the VAPID key pair from --file, generating and saving one when missing. With --print a fresh pair is printed and nothing is written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				keys *alert.VAPIDKeys
				err  error
			)
			if opts.Print {
				keys, err = alert.GenerateVAPIDKeys()
			} else {
				keys, err = alert.EnsureVAPIDKeys(opts.File)
			}
			if err != nil {
				return fmt.Errorf("vapid: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\n", keys.PublicKey)
			if opts.Print {
				fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PRIVATE_KEY=%s\n", keys.PrivateKey)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.File, "file", "f", "config/vapid.json", "Key file to load or create")
	cmd.Flags().BoolVar(&opts.Print, "print", false, "Print a fresh key pair instead of using the key file")
	return cmd
}
