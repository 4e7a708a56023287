package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmartens/lifesync/internal/config"
	"github.com/jmartens/lifesync/internal/google"
)

var authorizeCmd = &cobra.Command{
	Use:     "authorize [code]",
	GroupID: "setup",
	Short:   "Authorize access to Google Calendar, Gmail, and Contacts",
	Long: `Run the OAuth consent flow for the Google provider.

Without arguments, prints the consent URL to open in a browser. After
granting access, run the command again with the code Google hands back
to exchange it for a token. The token is stored next to
credentials.json in the google config directory.

Example usage:
  lifesync authorize           # Print the consent URL
  lifesync authorize 4/0Af...  # Exchange the code for a token`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Authorization runs before the rest of the config exists, so an
		// incomplete config falls back to the default directory.
		configDir := os.ExpandEnv("$HOME/.config/lifesync")
		if cfg, err := config.Load(cfgFile); err == nil {
			configDir = os.ExpandEnv(cfg.Google.ConfigDir)
		}

		if len(args) == 0 {
			url, err := google.ConsentURL(configDir)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Println("Open this URL in a browser and grant access:")
			fmt.Println()
			fmt.Println("  " + url)
			fmt.Println()
			fmt.Println("Then run: lifesync authorize <code>")
			return
		}

		if err := google.Authorize(context.Background(), configDir, args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Token saved under %s. The google provider is ready.\n", configDir)
	},
}

func init() {
	rootCmd.AddCommand(authorizeCmd)
}
