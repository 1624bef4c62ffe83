package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/credentials"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored API key",
	Long: `Manage the API key used for synthesis requests.

Keys are resolved in order from the OPENAI_API_KEY environment variable,
a .env file in the working directory, and api_key.txt next to it.

Examples:
  chanter auth set sk-...
  chanter auth show`,
}

var authSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store an API key for later runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := credentials.Write(".", args[0])
		if err != nil {
			return err
		}
		fmt.Printf("API key saved (%s)\n", source)
		return nil
	},
}

var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show where the API key comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, source, err := credentials.Resolve(".")
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", maskKey(key), source)
		return nil
	},
}

func init() {
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authShowCmd)
}

// maskKey keeps enough of the key to recognize it without exposing it.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + "..." + key[len(key)-4:]
}
