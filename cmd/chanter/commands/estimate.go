package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/chunker"
	"github.com/chanterlabs/chanter/internal/pricing"
	"github.com/chanterlabs/chanter/internal/speech"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate [text]",
	Short: "Estimate the cost of synthesizing text",
	Long: `Estimate the cost of synthesizing text without sending any request.

Billing rounds up to whole character blocks, so the estimate can exceed
a pro-rata price for short text. The chunk count is the number of API
requests a synthesis job would make.

Examples:
  chanter estimate --file book.txt
  chanter estimate --file book.txt --model tts-1-hd --json`,
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
		asJSON, _ := cmd.Flags().GetBool("json")

		est := estimatorFromConfig(cfg.Pricing)
		quote := est.Quote(
			utf8.RuneCountInString(text),
			chunker.Count(text, cfg.Synthesis.ChunkLimit),
			cfg.Synthesis.Model == speech.ModelHD,
		)

		if asJSON {
			data, err := json.MarshalIndent(quote, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "characters:\t%d\n", quote.Characters)
		fmt.Fprintf(w, "chunks:\t%d\n", quote.Chunks)
		fmt.Fprintf(w, "blocks:\t%d\n", quote.Blocks)
		fmt.Fprintf(w, "model:\t%s\n", cfg.Synthesis.Model)
		fmt.Fprintf(w, "estimated:\t%s\n", pricing.FormatUSD(quote.USD))
		return w.Flush()
	},
}

func init() {
	estimateCmd.Flags().StringP("file", "f", "", `read input text from a file ("-" for stdin)`)
	estimateCmd.Flags().String("model", "", "model tier, tts-1 or tts-1-hd (default from config)")
	estimateCmd.Flags().Bool("json", false, "output the quote as JSON")
}
