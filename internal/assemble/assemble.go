// Package assemble persists synthesized chunks and merges them into the final
// audio file using an external media tool.
package assemble

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// DefaultCommand invokes ffmpeg quietly and overwrites existing output.
const DefaultCommand = "ffmpeg -y -loglevel error"

// Assembler writes chunk artifacts and concatenates them. A single chunk is
// renamed into place without running the tool at all.
type Assembler struct {
	cmd    []string
	run    runner
	logger *slog.Logger
}

// runner executes the media tool; split out so tests never spawn processes.
type runner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin []byte) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// New parses the tool command and returns an assembler.
func New(command string, log *slog.Logger) (*Assembler, error) {
	if command == "" {
		command = DefaultCommand
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse assembler command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("assembler command empty")
	}
	return &Assembler{
		cmd:    args,
		run:    execRunner{},
		logger: log.With(slog.String("component", "assembler")),
	}, nil
}

// ChunkPath names the intermediate file for chunk index, placed next to the
// final output as <basename>_<index>.<format>.
func ChunkPath(outputPath string, index int, format string) string {
	dir := filepath.Dir(outputPath)
	base := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	return filepath.Join(dir, fmt.Sprintf("%s_%d.%s", base, index, format))
}

// WriteChunk persists one chunk's audio bytes, creating the directory first.
func (a *Assembler) WriteChunk(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create chunk dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	return nil
}

// Merge combines files into outputPath in order. One file is renamed into
// place; several are fed to the tool as a concat manifest on stdin. The codec
// follows the output extension so the container matches what was requested.
func (a *Assembler) Merge(ctx context.Context, files []string, outputPath string) error {
	if len(files) == 0 {
		return fmt.Errorf("no audio files to merge")
	}

	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	if len(files) == 1 {
		if err := os.Rename(files[0], outputPath); err != nil {
			return fmt.Errorf("rename single chunk: %w", err)
		}
		a.logger.Info("renamed single chunk into place", slog.String("output", outputPath))
		return nil
	}

	manifest := concatManifest(files)
	if len(manifest) == 0 {
		return fmt.Errorf("no chunk files found to merge")
	}

	codec := codecForFormat(strings.TrimPrefix(filepath.Ext(outputPath), "."))
	args := append(append([]string{}, a.cmd[1:]...),
		"-f", "concat", "-safe", "0", "-i", "-", "-c:a", codec, outputPath)

	a.logger.Info("merging chunks",
		slog.Int("files", len(files)),
		slog.String("codec", codec),
		slog.String("output", outputPath))
	if err := a.run.Run(ctx, a.cmd[0], args, manifest); err != nil {
		return fmt.Errorf("merge chunks: %w", err)
	}
	return nil
}

// Cleanup deletes intermediate files, logging failures instead of returning
// them; a stale chunk on disk never fails a finished job.
func (a *Assembler) Cleanup(files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("failed to remove chunk file",
				slog.String("path", f),
				slog.String("error", err.Error()))
			continue
		}
		a.logger.Debug("removed chunk file", slog.String("path", f))
	}
}

// concatManifest builds the demuxer file list, skipping chunks that vanished.
func concatManifest(files []string) []byte {
	var b strings.Builder
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		quoted := strings.ReplaceAll(f, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", quoted)
	}
	return []byte(b.String())
}

// codecForFormat maps the output extension to the tool's encoder name.
// Unknown formats pass the streams through unchanged.
func codecForFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "libmp3lame"
	case "flac":
		return "flac"
	case "aac":
		return "aac"
	case "opus":
		return "libopus"
	default:
		return "copy"
	}
}
