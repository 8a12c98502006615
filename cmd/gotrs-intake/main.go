// Command gotrs-intake runs the ticket intake service: the HTTP API, the MTA pipe and the
// mailbox poller.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/version"
)

var (
	configDir  string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "gotrs-intake",
	Short: "GOTRS intake - turns API calls and inbound email into tickets",
	Long: `GOTRS intake accepts support requests over a JSON API, from an MTA pipe and from
POP3/IMAP mailboxes, and files each one as a new ticket or a follow-up on an existing
conversation.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gotrs-intake %s\n", version.Full())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "Directory holding default.yaml and an optional config.yaml")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Single configuration file; overrides --config-dir")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pipeCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(hashKeyCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitError ends the process with a specific status and no message.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func loadConfig() (*config.Loader, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load(configDir)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
