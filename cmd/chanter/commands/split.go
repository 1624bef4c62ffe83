package commands

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/chunker"
)

var splitCmd = &cobra.Command{
	Use:   "split [text]",
	Short: "Preview how text splits into synthesis chunks",
	Long: `Preview how text splits into synthesis chunks.

Each chunk stays under the API limit; the splitter prefers cutting after
sentence punctuation, then at whitespace, and only hard-cuts when a
single token exceeds the limit.

Examples:
  chanter split --file book.txt
  chanter split --file book.txt --limit 500 --show`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		text, err := readText(file, args, os.Stdin)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.Synthesis.ChunkLimit
		}
		show, _ := cmd.Flags().GetBool("show")

		chunks := chunker.Split(text, limit)
		fmt.Printf("%d chunk(s), limit %d\n", len(chunks), limit)
		for i, chunk := range chunks {
			fmt.Printf("%4d: %d runes\n", i+1, utf8.RuneCountInString(chunk))
			if show {
				fmt.Println(chunk)
			}
		}
		return nil
	},
}

func init() {
	splitCmd.Flags().StringP("file", "f", "", `read input text from a file ("-" for stdin)`)
	splitCmd.Flags().Int("limit", 0, "chunk size limit in characters (default from config)")
	splitCmd.Flags().Bool("show", false, "print each chunk's text")
}
