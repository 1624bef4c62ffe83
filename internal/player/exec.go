package player

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// execOutput streams audio units into a player subprocess over stdin.
type execOutput struct {
	args []string
	log  *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
}

func (e *execOutput) Start(ctx context.Context, format string) error {
	command := exec.CommandContext(ctx, e.args[0], e.args[1:]...)
	command.Stderr = &e.stderr

	stdin, err := command.StdinPipe()
	if err != nil {
		return fmt.Errorf("player stdin: %w", err)
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}

	e.cmd = command
	e.stdin = stdin
	e.log.Debug("player started",
		slog.String("command", e.args[0]),
		slog.String("format", format))
	return nil
}

func (e *execOutput) Write(unit []byte) error {
	_, err := e.stdin.Write(unit)
	return err
}

func (e *execOutput) Close() error {
	if e.stdin != nil {
		e.stdin.Close()
	}
	if e.cmd == nil {
		return nil
	}
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("player exited: %w: %s", err, e.stderr.String())
	}
	return nil
}
