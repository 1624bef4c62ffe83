package commands

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/assemble"
	"github.com/chanterlabs/chanter/internal/config"
	"github.com/chanterlabs/chanter/internal/credentials"
	"github.com/chanterlabs/chanter/internal/notify"
	"github.com/chanterlabs/chanter/internal/pipeline"
	"github.com/chanterlabs/chanter/internal/pricing"
	"github.com/chanterlabs/chanter/internal/speech"
)

// readText collects the input text: a --file path wins ("-" reads stdin),
// then literal arguments joined by spaces.
func readText(path string, args []string, stdin io.Reader) (string, error) {
	switch {
	case path == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read input file: %w", err)
		}
		return string(data), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	return "", fmt.Errorf("no input text: pass text as an argument or use --file")
}

// addSynthesisFlags registers the flags shared by commands that build
// synthesis requests.
func addSynthesisFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", `read input text from a file ("-" for stdin)`)
	cmd.Flags().String("model", "", "model tier, tts-1 or tts-1-hd (default from config)")
	cmd.Flags().String("voice", "", "voice name (default from config)")
	cmd.Flags().String("format", "", "audio format: mp3, opus, aac, flac or wav (default from config)")
	cmd.Flags().Float64("speed", 0, "speech speed between 0.25 and 4.0 (default from config)")
}

// applySynthesisFlags folds the per-command flag overrides into cfg and
// validates the result. Flags a command never registered are skipped.
func applySynthesisFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Synthesis.Model, _ = flags.GetString("model")
	}
	if flags.Changed("voice") {
		cfg.Synthesis.Voice, _ = flags.GetString("voice")
	}
	if flags.Changed("format") {
		cfg.Synthesis.Format, _ = flags.GetString("format")
	}
	if flags.Changed("speed") {
		cfg.Synthesis.Speed, _ = flags.GetFloat64("speed")
	}
	if flags.Changed("retain-chunks") {
		cfg.Synthesis.RetainChunks, _ = flags.GetBool("retain-chunks")
	}

	switch cfg.Synthesis.Model {
	case speech.ModelStandard, speech.ModelHD:
	default:
		return fmt.Errorf("unknown model %q, expected %s or %s",
			cfg.Synthesis.Model, speech.ModelStandard, speech.ModelHD)
	}
	if !speech.ValidVoice(cfg.Synthesis.Voice) {
		return fmt.Errorf("unknown voice %q, expected one of %s",
			cfg.Synthesis.Voice, strings.Join(speech.Voices, ", "))
	}
	if !speech.ValidFormat(cfg.Synthesis.Format) {
		return fmt.Errorf("unknown format %q, expected one of %s",
			cfg.Synthesis.Format, strings.Join(speech.Formats, ", "))
	}
	return nil
}

// buildRunner wires credentials, the rate-limited API client and the audio
// assembler into a pipeline runner.
func buildRunner(cfg config.Config, log *slog.Logger, notifier notify.Notifier, opts ...pipeline.Option) (*pipeline.Runner, error) {
	key, source, err := credentials.Resolve(".")
	if err != nil {
		return nil, err
	}
	log.Debug("API key resolved", slog.String("source", string(source)))

	limiter := speech.NewIntervalLimiter(
		rpmInterval(cfg.Client.StandardRPM),
		rpmInterval(cfg.Client.HDRPM),
	)
	client := speech.New(key,
		speech.WithBaseURL(cfg.Client.BaseURL),
		speech.WithTimeout(time.Duration(cfg.Client.TimeoutMS)*time.Millisecond),
		speech.WithMaxAttempts(cfg.Client.MaxAttempts),
		speech.WithRetryDelay(time.Duration(cfg.Client.RetryDelayMS)*time.Millisecond),
		speech.WithLimiter(limiter),
		speech.WithLogger(log),
	)

	merger, err := assemble.New(cfg.Assembler.Command, log)
	if err != nil {
		return nil, err
	}

	est := estimatorFromConfig(cfg.Pricing)
	opts = append(opts, pipeline.WithEstimator(&est))
	return pipeline.NewRunner(cfg.Synthesis, client, merger, notifier, log, opts...), nil
}

// rpmInterval converts a requests-per-minute allowance into the minimum
// spacing between requests.
func rpmInterval(rpm int) time.Duration {
	if rpm <= 0 {
		return 0
	}
	return time.Minute / time.Duration(rpm)
}

func estimatorFromConfig(cfg config.PricingConfig) pricing.Estimator {
	return pricing.Estimator{
		BlockChars:    cfg.BlockChars,
		USDPerBlock:   cfg.USDPerBlock,
		USDPerBlockHD: cfg.USDPerBlockHD,
	}
}

// confirm shows the cost quote and asks before any money is spent.
func confirm(in io.Reader, out io.Writer, quote pricing.Quote) bool {
	fmt.Fprintf(out, "%d characters in %d chunk(s), estimated cost %s\n",
		quote.Characters, quote.Chunks, pricing.FormatUSD(quote.USD))
	fmt.Fprint(out, "proceed? [y/N] ")
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// consoleNotifier renders pipeline notifications for an interactive
// session. Progress rewrites a single stderr line so stdout stays
// reserved for command output.
type consoleNotifier struct {
	out io.Writer
}

func (c *consoleNotifier) Progress(percent float64) {
	fmt.Fprintf(c.out, "\rsynthesizing %5.1f%%", percent)
	if percent >= 100 {
		fmt.Fprintln(c.out)
	}
}

func (c *consoleNotifier) Error(message string) {
	fmt.Fprintf(c.out, "\nerror: %s\n", message)
}

func (c *consoleNotifier) PlaybackState(bool) {}

func (c *consoleNotifier) Finished() {}
