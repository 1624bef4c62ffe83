package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/pipeline"
	"github.com/chanterlabs/chanter/internal/player"
)

var speakCmd = &cobra.Command{
	Use:   "speak [text]",
	Short: "Synthesize short text and play it aloud",
	Long: `Synthesize short text and play it through the speakers.

The text must fit in a single synthesis request; longer input belongs to
'chanter synthesize'. Playback is controlled from the keyboard:

  p<Enter>  pause
  r<Enter>  resume
  q<Enter>  stop

Examples:
  chanter speak "The quick brown fox jumps over the lazy dog."
  chanter speak --file note.txt --voice nova`,
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
		if file == "-" {
			return errors.New("speak reads playback controls from stdin; pass the text as an argument or a file path")
		}
		text, err := readText(file, args, os.Stdin)
		if err != nil {
			return err
		}

		log := cliLogger()
		notifier := &consoleNotifier{out: os.Stderr}
		ctrl, err := player.New(cfg.Player, notifier, log)
		if err != nil {
			return err
		}
		runner, err := buildRunner(cfg, log, notifier, pipeline.WithPlayer(ctrl))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintln(os.Stderr, "synthesizing...")
		if err := runner.Speak(ctx, pipeline.Request{Text: text}); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "playing  (p pause, r resume, q stop)")

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- strings.TrimSpace(scanner.Text())
			}
			close(lines)
		}()

		done := make(chan struct{})
		go func() {
			ctrl.Wait()
			close(done)
		}()

		for {
			select {
			case <-done:
				if ctrl.State() == player.StateErrored {
					return errors.New("playback failed")
				}
				return nil
			case <-ctx.Done():
				ctrl.Abort()
				ctrl.Wait()
				return nil
			case line, ok := <-lines:
				if !ok {
					// stdin closed; let playback run to the end
					lines = nil
					continue
				}
				switch line {
				case "p":
					ctrl.Pause()
					fmt.Fprintln(os.Stderr, "paused")
				case "r":
					ctrl.Resume()
					fmt.Fprintln(os.Stderr, "playing")
				case "q":
					ctrl.Abort()
				}
			}
		}
	},
}

func init() {
	addSynthesisFlags(speakCmd)
}
