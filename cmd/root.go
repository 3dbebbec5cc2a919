package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command; subcommands attach themselves in init.
var rootCmd = &cobra.Command{
	Use:   "peerhub",
	Short: "Peerhub user-account API server",
	Long:  `Peerhub is a user-account backend with password and Google login, profiles, avatar uploads, and peer ratings.`,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
