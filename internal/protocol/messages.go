package protocol

import "time"

// SynthesisRequest asks the runtime to turn text into a spoken audio file.
type SynthesisRequest struct {
	JobID        string  `json:"job_id,omitempty"`
	Text         string  `json:"text"`
	Model        string  `json:"model,omitempty"`
	Voice        string  `json:"voice,omitempty"`
	Format       string  `json:"format,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
	OutputPath   string  `json:"output_path,omitempty"`
	RetainChunks bool    `json:"retain_chunks,omitempty"`
}

// Progress reports completion percentage while a job runs.
type Progress struct {
	Percent   float64   `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

// JobError reports a terminal failure.
type JobError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaybackState reports whether audio is currently playing.
type PlaybackState struct {
	Playing   bool      `json:"playing"`
	Timestamp time.Time `json:"timestamp"`
}

// JobDone reports successful completion.
type JobDone struct {
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSynthesisRequest = "speech.request"
	SubjectProgress         = "speech.progress"
	SubjectError            = "speech.error"
	SubjectPlayback         = "speech.playback"
	SubjectDone             = "speech.done"
)
