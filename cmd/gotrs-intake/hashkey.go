package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-intake/internal/auth"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [secret]",
	Short: "Print the bcrypt hash to configure for an API key",
	Long: `Hash-key prints the value for api.keys[].hash. The secret is read from the first
argument, or from the first line of stdin when no argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var secret string
		if len(args) == 1 {
			secret = args[0]
		} else {
			scanner := bufio.NewScanner(cmd.InOrStdin())
			if scanner.Scan() {
				secret = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return err
			}
		}
		hashed, err := auth.HashKey(secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hashed)
		return nil
	},
}
