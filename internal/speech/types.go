package speech

// Model tiers accepted by the synthesis endpoint. The HD tier trades latency
// and a lower request allowance for higher audio quality.
const (
	ModelStandard = "tts-1"
	ModelHD       = "tts-1-hd"
)

// Speed bounds accepted by the synthesis endpoint.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// Voices supported by the synthesis endpoint.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Formats supported for the response audio.
var Formats = []string{"mp3", "opus", "aac", "flac", "wav"}

// Request is one synthesis call. Input must not exceed the API chunk limit;
// callers split longer text first.
type Request struct {
	Model  string  `json:"model"`
	Input  string  `json:"input"`
	Voice  string  `json:"voice"`
	Format string  `json:"response_format,omitempty"`
	Speed  float64 `json:"speed,omitempty"`
}

// HD reports whether the request targets the HD tier.
func (r Request) HD() bool {
	return r.Model == ModelHD
}

// ValidVoice reports whether name is a known voice.
func ValidVoice(name string) bool {
	for _, v := range Voices {
		if v == name {
			return true
		}
	}
	return false
}

// ValidFormat reports whether name is a known response format.
func ValidFormat(name string) bool {
	for _, f := range Formats {
		if f == name {
			return true
		}
	}
	return false
}
