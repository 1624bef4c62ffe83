package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chanter",
	Short: "Turn text into spoken audio",
	Long: `Chanter - a text-to-speech pipeline for long-form text.

Text of any length is split into API-sized chunks, each chunk is
synthesized one request at a time under the endpoint's rate limits, and
the pieces are merged into a single audio file. Short text can be played
straight through the speakers instead.

Examples:
  # Estimate what a file would cost before synthesizing it
  chanter estimate --file book.txt --model tts-1-hd

  # Synthesize a file into one mp3
  chanter synthesize --file book.txt --output book.mp3

  # Read a sentence aloud, with pause and resume from the keyboard
  chanter speak "The quick brown fox jumps over the lazy dog."

  # Run as a service, taking jobs over NATS
  chanter serve

The API key is resolved from the OPENAI_API_KEY environment variable, a
.env file, or api_key.txt in the working directory; 'chanter auth'
manages the stored key.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "chanter.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(synthesizeCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration file. A missing file only fails the
// command when --config was given explicitly; otherwise built-in defaults
// apply.
func loadConfig() (config.Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
		return config.Load("")
	}
	return config.Load(cfgFile)
}

// cliLogger keeps stdout clean for command output; diagnostics go to stderr.
func cliLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
