package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chanterlabs/chanter/internal/assemble"
	"github.com/chanterlabs/chanter/internal/config"
	"github.com/chanterlabs/chanter/internal/history"
	"github.com/chanterlabs/chanter/internal/notify"
	"github.com/chanterlabs/chanter/internal/player"
	"github.com/chanterlabs/chanter/internal/pricing"
	"github.com/chanterlabs/chanter/internal/speech"
)

// threeChunkText splits into exactly three sentences at a limit of 16.
const threeChunkText = "Alpha beta. Gamma delta. Epsilon zeta."

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(limit int) config.SynthesisConfig {
	return config.SynthesisConfig{
		Model:      speech.ModelStandard,
		Voice:      "alloy",
		Format:     "mp3",
		Speed:      1.0,
		ChunkLimit: limit,
	}
}

// fakeSynth produces "audio-N;" per call. started signals call entry;
// gate, when set, holds calls until closed or the context ends.
type fakeSynth struct {
	started chan struct{}
	gate    chan struct{}
	failAt  int
	err     error

	mu    sync.Mutex
	calls []speech.Request
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{started: make(chan struct{}, 16)}
}

func (s *fakeSynth) Synthesize(ctx context.Context, req speech.Request) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.failAt != 0 && n == s.failAt {
		return nil, s.err
	}
	return []byte(fmt.Sprintf("audio-%d;", n)), nil
}

func (s *fakeSynth) SynthesizeTo(ctx context.Context, req speech.Request, w io.Writer) (int64, error) {
	data, err := s.Synthesize(ctx, req)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (s *fakeSynth) requests() []speech.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speech.Request(nil), s.calls...)
}

// fakeMerger keeps chunks in memory and concatenates them on merge.
type fakeMerger struct {
	writeErr error
	mergeErr error

	mu         sync.Mutex
	chunks     map[string][]byte
	mergedFrom []string
	output     []byte
	outputPath string
	cleaned    [][]string
}

func (m *fakeMerger) WriteChunk(path string, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks == nil {
		m.chunks = make(map[string][]byte)
	}
	m.chunks[path] = append([]byte(nil), data...)
	return nil
}

func (m *fakeMerger) Merge(ctx context.Context, files []string, outputPath string) error {
	if m.mergeErr != nil {
		return m.mergeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergedFrom = append([]string(nil), files...)
	m.outputPath = outputPath
	m.output = nil
	for _, f := range files {
		m.output = append(m.output, m.chunks[f]...)
	}
	return nil
}

func (m *fakeMerger) Cleanup(files []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned = append(m.cleaned, append([]string(nil), files...))
	for _, f := range files {
		delete(m.chunks, f)
	}
}

func (m *fakeMerger) cleanupCalls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.cleaned))
	copy(out, m.cleaned)
	return out
}

func (m *fakeMerger) mergedOutput() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.output...)
}

func assertProgress(t *testing.T, got []float64, chunks int) {
	t.Helper()
	want := make([]float64, 0, chunks+1)
	for i := 0; i < chunks; i++ {
		want = append(want, float64(i)/float64(chunks)*100)
	}
	want = append(want, 100)
	if len(got) != len(want) {
		t.Fatalf("progress %v, want %v", got, want)
	}
	hundreds := 0
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("progress %v, want %v", got, want)
		}
		if i > 0 && got[i] < got[i-1] {
			t.Fatalf("progress went backwards: %v", got)
		}
		if got[i] == 100 {
			hundreds++
		}
	}
	if hundreds != 1 {
		t.Fatalf("expected exactly one final 100, got %d in %v", hundreds, got)
	}
}

func openStore(t *testing.T) *history.Store {
	t.Helper()
	cfg := config.HistoryConfig{Path: filepath.Join(t.TempDir(), "jobs.db"), MaxJobs: 100}
	store, err := history.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunSingleChunkRenamesIntoPlace(t *testing.T) {
	tmp := t.TempDir()
	merger, err := assemble.New("", newLogger())
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	synth := newFakeSynth()
	sink := &notify.Collector{}
	r := NewRunner(testConfig(0), synth, merger, sink, newLogger())

	out := filepath.Join(tmp, "out", "speech.mp3")
	err = r.Run(context.Background(), Request{JobID: "job-1", Text: "Hello there.", OutputPath: out})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "audio-1;" {
		t.Fatalf("unexpected output content: %q", data)
	}
	if _, err := os.Stat(filepath.Join(tmp, "out", "speech_0.mp3")); !os.IsNotExist(err) {
		t.Fatalf("intermediate chunk still present")
	}
	assertProgress(t, sink.Progresses(), 1)
	if sink.FinishedCount() != 1 {
		t.Fatalf("expected one completion, got %d", sink.FinishedCount())
	}
	if len(sink.Errors()) != 0 {
		t.Fatalf("unexpected errors: %v", sink.Errors())
	}
}

func TestRunSplitsAndMerges(t *testing.T) {
	synth := newFakeSynth()
	merger := &fakeMerger{}
	sink := &notify.Collector{}
	r := NewRunner(testConfig(16), synth, merger, sink, newLogger())

	err := r.Run(context.Background(), Request{JobID: "job-2", Text: threeChunkText, OutputPath: "out/speech.mp3"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	reqs := synth.requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 synthesis calls, got %d", len(reqs))
	}
	wantInputs := []string{"Alpha beta.", "Gamma delta.", "Epsilon zeta."}
	for i, want := range wantInputs {
		if reqs[i].Input != want {
			t.Fatalf("call %d input %q, want %q", i, reqs[i].Input, want)
		}
		if reqs[i].Model != speech.ModelStandard || reqs[i].Voice != "alloy" || reqs[i].Format != "mp3" {
			t.Fatalf("call %d carried wrong defaults: %+v", i, reqs[i])
		}
	}

	wantFiles := []string{
		filepath.Join("out", "speech_0.mp3"),
		filepath.Join("out", "speech_1.mp3"),
		filepath.Join("out", "speech_2.mp3"),
	}
	if len(merger.mergedFrom) != len(wantFiles) {
		t.Fatalf("merged %v, want %v", merger.mergedFrom, wantFiles)
	}
	for i, want := range wantFiles {
		if merger.mergedFrom[i] != want {
			t.Fatalf("merged %v, want %v", merger.mergedFrom, wantFiles)
		}
	}
	if got := string(merger.mergedOutput()); got != "audio-1;audio-2;audio-3;" {
		t.Fatalf("merged content %q", got)
	}

	cleans := merger.cleanupCalls()
	if len(cleans) != 1 || len(cleans[0]) != 3 {
		t.Fatalf("expected one cleanup of 3 files, got %v", cleans)
	}
	assertProgress(t, sink.Progresses(), 3)
	if sink.FinishedCount() != 1 {
		t.Fatalf("expected one completion, got %d", sink.FinishedCount())
	}
}

func TestRunLongDocument(t *testing.T) {
	sentence := "This sentence pads the document out to a representative length for synthesis. "
	var b strings.Builder
	for b.Len() < 10000 {
		b.WriteString(sentence)
	}
	text := b.String()[:10000]

	synth := newFakeSynth()
	merger := &fakeMerger{}
	sink := &notify.Collector{}
	r := NewRunner(testConfig(0), synth, merger, sink, newLogger())

	err := r.Run(context.Background(), Request{JobID: "job-long", Text: text, OutputPath: "out/book.mp3"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	reqs := synth.requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 synthesis calls for %d chars, got %d", len(text), len(reqs))
	}
	var joined strings.Builder
	for _, req := range reqs {
		joined.WriteString(req.Input)
	}
	if strings.ReplaceAll(joined.String(), " ", "") != strings.ReplaceAll(text, " ", "") {
		t.Fatal("chunked inputs lost or duplicated content")
	}
	if len(merger.mergedFrom) != 3 {
		t.Fatalf("merged %d files, want 3", len(merger.mergedFrom))
	}
	if cleans := merger.cleanupCalls(); len(cleans) != 1 || len(cleans[0]) != 3 {
		t.Fatalf("expected one cleanup of 3 files, got %v", cleans)
	}
	assertProgress(t, sink.Progresses(), 3)
}

func TestRunRetainsChunkFiles(t *testing.T) {
	synth := newFakeSynth()
	merger := &fakeMerger{}
	sink := &notify.Collector{}
	r := NewRunner(testConfig(16), synth, merger, sink, newLogger())

	err := r.Run(context.Background(), Request{
		JobID:        "job-3",
		Text:         threeChunkText,
		OutputPath:   "out/speech.mp3",
		RetainChunks: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cleans := merger.cleanupCalls(); len(cleans) != 0 {
		t.Fatalf("expected no cleanup with retention on, got %v", cleans)
	}
}

func TestRunFailureCleansUpChunks(t *testing.T) {
	synth := newFakeSynth()
	synth.failAt = 2
	synth.err = &speech.APIError{StatusCode: 500, Message: "upstream down"}
	merger := &fakeMerger{}
	sink := &notify.Collector{}
	store := openStore(t)
	r := NewRunner(testConfig(16), synth, merger, sink, newLogger(), WithHistory(store))

	err := r.Run(context.Background(), Request{JobID: "job-4", Text: threeChunkText, OutputPath: "out/speech.mp3"})
	if err == nil {
		t.Fatalf("expected run to fail")
	}

	cleans := merger.cleanupCalls()
	if len(cleans) != 1 {
		t.Fatalf("expected one cleanup, got %v", cleans)
	}
	if len(cleans[0]) != 1 || cleans[0][0] != filepath.Join("out", "speech_0.mp3") {
		t.Fatalf("expected the first chunk cleaned, got %v", cleans[0])
	}
	if msgs := sink.Errors(); len(msgs) != 1 || !strings.Contains(msgs[0], "upstream down") {
		t.Fatalf("unexpected error notifications: %v", msgs)
	}
	if sink.FinishedCount() != 0 {
		t.Fatalf("failed job reported completion")
	}
	for _, p := range sink.Progresses() {
		if p == 100 {
			t.Fatalf("failed job reported full progress: %v", sink.Progresses())
		}
	}

	jobs, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != history.StatusFailed {
		t.Fatalf("expected failed history entry, got %+v", jobs)
	}
	if !strings.Contains(jobs[0].Error, "upstream down") {
		t.Fatalf("history lost the failure reason: %q", jobs[0].Error)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	synth := newFakeSynth()
	merger := &fakeMerger{}
	store := openStore(t)
	est := pricing.NewEstimator()
	r := NewRunner(testConfig(16), synth, merger, notify.Nop{}, newLogger(),
		WithHistory(store), WithEstimator(&est))

	err := r.Run(context.Background(), Request{JobID: "job-5", Text: threeChunkText, OutputPath: "out/speech.mp3"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	jobs, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.ID != "job-5" || job.Status != history.StatusCompleted {
		t.Fatalf("unexpected job record: %+v", job)
	}
	if job.Characters != 38 || job.Chunks != 3 {
		t.Fatalf("unexpected size fields: %+v", job)
	}
	if job.EstimatedUSD != 0.015 {
		t.Fatalf("unexpected estimate: %v", job.EstimatedUSD)
	}
	if job.CompletedAt.IsZero() {
		t.Fatalf("completed job missing completion time")
	}
}

func TestAbortStopsJob(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	merger := &fakeMerger{}
	sink := &notify.Collector{}
	store := openStore(t)
	r := NewRunner(testConfig(16), synth, merger, sink, newLogger(), WithHistory(store))

	if _, err := r.Start(context.Background(), Request{JobID: "job-6", Text: threeChunkText, OutputPath: "out/speech.mp3"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-synth.started
	r.Abort()
	r.Wait()

	if msgs := sink.Errors(); len(msgs) != 1 || msgs[0] != "synthesis aborted" {
		t.Fatalf("unexpected error notifications: %v", msgs)
	}
	if sink.FinishedCount() != 0 {
		t.Fatalf("aborted job reported completion")
	}
	jobs, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != history.StatusAborted {
		t.Fatalf("expected aborted history entry, got %+v", jobs)
	}
}

func TestStartAbortsPreviousJob(t *testing.T) {
	synth := newFakeSynth()
	synth.gate = make(chan struct{})
	merger := &fakeMerger{}
	sink := &notify.Collector{}
	r := NewRunner(testConfig(16), synth, merger, sink, newLogger())

	id1, err := r.Start(context.Background(), Request{JobID: "job-a", Text: threeChunkText, OutputPath: "out/a.mp3"})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	<-synth.started

	id2, err := r.Start(context.Background(), Request{JobID: "job-b", Text: "Short.", OutputPath: "out/b.mp3"})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	<-synth.started
	close(synth.gate)
	r.Wait()

	if id1 == id2 {
		t.Fatalf("expected distinct job ids")
	}
	if msgs := sink.Errors(); len(msgs) != 1 || msgs[0] != "synthesis aborted" {
		t.Fatalf("expected the first job aborted, got %v", msgs)
	}
	if sink.FinishedCount() != 1 {
		t.Fatalf("expected the second job to finish, got %d completions", sink.FinishedCount())
	}
	if merger.outputPath != filepath.FromSlash("out/b.mp3") {
		t.Fatalf("merged into %q", merger.outputPath)
	}
}

func TestRunNormalizesSpeed(t *testing.T) {
	cases := []struct {
		name  string
		speed float64
		want  float64
	}{
		{"default from config", 0, 1.0},
		{"in range", 2.0, 2.0},
		{"too fast", 9.5, 1.0},
		{"too slow", 0.1, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			synth := newFakeSynth()
			r := NewRunner(testConfig(0), synth, &fakeMerger{}, notify.Nop{}, newLogger())
			err := r.Run(context.Background(), Request{Text: "Hi there.", OutputPath: "out/s.mp3", Speed: tc.speed})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			reqs := synth.requests()
			if len(reqs) != 1 || reqs[0].Speed != tc.want {
				t.Fatalf("speed %v sent as %v, want %v", tc.speed, reqs[0].Speed, tc.want)
			}
		})
	}
}

func TestRunEmptyTextFails(t *testing.T) {
	sink := &notify.Collector{}
	r := NewRunner(testConfig(0), newFakeSynth(), &fakeMerger{}, sink, newLogger())
	if err := r.Run(context.Background(), Request{Text: "   "}); err == nil {
		t.Fatalf("expected error for empty text")
	}
	if len(sink.Errors()) != 1 {
		t.Fatalf("expected one error notification, got %v", sink.Errors())
	}
}

// captureOutput collects everything the player writes.
type captureOutput struct {
	mu   sync.Mutex
	data []byte
}

func (o *captureOutput) Start(ctx context.Context, format string) error { return nil }

func (o *captureOutput) Write(unit []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = append(o.data, unit...)
	return nil
}

func (o *captureOutput) Close() error { return nil }

func (o *captureOutput) bytes() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.data...)
}

func newTestPlayer(t *testing.T, out player.Output, sink notify.Notifier) *player.Controller {
	t.Helper()
	p, err := player.New(config.PlayerConfig{}, sink, newLogger(),
		player.WithOutput(func() player.Output { return out }))
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	return p
}

func TestSpeakPlaysSingleResponse(t *testing.T) {
	synth := newFakeSynth()
	sink := &notify.Collector{}
	out := &captureOutput{}
	p := newTestPlayer(t, out, sink)
	r := NewRunner(testConfig(0), synth, &fakeMerger{}, sink, newLogger(), WithPlayer(p))

	if err := r.Speak(context.Background(), Request{Text: "Hello there."}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	p.Wait()

	if got := p.State(); got != player.StateFinished {
		t.Fatalf("expected playback finished, got %v", got)
	}
	if string(out.bytes()) != "audio-1;" {
		t.Fatalf("player received %q", out.bytes())
	}
	reqs := synth.requests()
	if len(reqs) != 1 || reqs[0].Input != "Hello there." {
		t.Fatalf("unexpected synthesis calls: %+v", reqs)
	}
}

func TestSpeakRejectsLongText(t *testing.T) {
	synth := newFakeSynth()
	p := newTestPlayer(t, &captureOutput{}, notify.Nop{})
	r := NewRunner(testConfig(16), synth, &fakeMerger{}, notify.Nop{}, newLogger(), WithPlayer(p))

	err := r.Speak(context.Background(), Request{Text: threeChunkText})
	if err == nil {
		t.Fatalf("expected error for multi-chunk text")
	}
	if !strings.Contains(err.Error(), "single") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(synth.requests()) != 0 {
		t.Fatalf("speak sent requests despite oversized text")
	}
}
