package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/chunker"
	"github.com/chanterlabs/chanter/internal/pipeline"
	"github.com/chanterlabs/chanter/internal/speech"
)

var synthesizeCmd = &cobra.Command{
	Use:     "synthesize [text]",
	Aliases: []string{"synth"},
	Short:   "Synthesize text into one audio file",
	Long: `Synthesize text into one audio file.

Long text is split at sentence boundaries into chunks the API accepts,
each chunk is synthesized under the tier's rate limit, and the pieces
are merged with ffmpeg. The estimated cost is shown before any request
is sent; confirm it or pass --yes.

Examples:
  chanter synthesize "Hello there." --output hello.mp3
  chanter synthesize --file book.txt --model tts-1-hd --output book.flac
  cat article.txt | chanter synthesize --file - --yes --output article.mp3`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applySynthesisFlags(cmd, &cfg); err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		text, err := readText(file, args, os.Stdin)
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		yes, _ := cmd.Flags().GetBool("yes")

		est := estimatorFromConfig(cfg.Pricing)
		quote := est.Quote(
			utf8.RuneCountInString(text),
			chunker.Count(text, cfg.Synthesis.ChunkLimit),
			cfg.Synthesis.Model == speech.ModelHD,
		)
		if !yes {
			if file == "-" {
				return errors.New("reading text from stdin leaves no terminal for the cost prompt; pass --yes")
			}
			if !confirm(os.Stdin, os.Stderr, quote) {
				return errors.New("cancelled")
			}
		}

		log := cliLogger()
		runner, err := buildRunner(cfg, log, &consoleNotifier{out: os.Stderr})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req := pipeline.Request{
			Text:         text,
			OutputPath:   output,
			RetainChunks: cfg.Synthesis.RetainChunks,
		}
		if err := runner.Run(ctx, req); err != nil {
			return err
		}

		if output == "" {
			output = fmt.Sprintf("speech.%s", cfg.Synthesis.Format)
		}
		fmt.Printf("wrote %s\n", output)
		return nil
	},
}

func init() {
	addSynthesisFlags(synthesizeCmd)
	synthesizeCmd.Flags().StringP("output", "o", "", "output audio file (default speech.<format>)")
	synthesizeCmd.Flags().Bool("retain-chunks", false, "keep intermediate chunk files next to the output")
	synthesizeCmd.Flags().BoolP("yes", "y", false, "skip the cost confirmation prompt")
}
