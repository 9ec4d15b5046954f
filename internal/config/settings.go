package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings holds the agent tunables from settings.yaml. The file is re-read
// on use, so edits take effect without a restart. Missing keys keep their
// defaults.
type Settings struct {
	ContextLimitTokens      int           `yaml:"context_limit_tokens"`
	TimeoutSummarizeSeconds int           `yaml:"timeout_summarize_seconds"`
	TimeoutClearSeconds     int           `yaml:"timeout_clear_seconds"`
	ReplyMaxLength          int           `yaml:"reply_max_length"`
	Media                   MediaSettings `yaml:"media"`
}

// MediaSettings configures the media sidecar.
type MediaSettings struct {
	TranscriptionModel     string            `yaml:"transcription_model"`
	TranscriptionProvider  string            `yaml:"transcription_provider"`
	Timeout                int               `yaml:"timeout"`                   // per-task seconds
	SyncProcessThresholdMB int               `yaml:"sync_process_threshold_mb"` // 0 = never process inline
	Image                  MediaTypeSettings `yaml:"image"`
	Audio                  MediaTypeSettings `yaml:"audio"`
	Video                  MediaTypeSettings `yaml:"video"`
	Document               MediaTypeSettings `yaml:"document"`
}

// MediaTypeSettings configures handling for one media type.
type MediaTypeSettings struct {
	Transcribe    bool  `yaml:"transcribe"`
	Passthrough   bool  `yaml:"passthrough"`
	MaxDuration   int   `yaml:"max_duration"` // seconds, audio/video only, 0 = no limit
	TrimOverLimit *bool `yaml:"trim_over_limit"`
}

// ShouldTrimOverLimit reports whether over-length media is trimmed (default)
// or passed through untouched when no trimmer is available.
func (m MediaTypeSettings) ShouldTrimOverLimit() bool {
	return m.TrimOverLimit == nil || *m.TrimOverLimit
}

// ForType returns the settings for a media type name.
func (m *MediaSettings) ForType(mediaType string) MediaTypeSettings {
	switch mediaType {
	case "image":
		return m.Image
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	case "document":
		return m.Document
	}
	return MediaTypeSettings{}
}

// DefaultSettings returns Settings with all defaults applied.
func DefaultSettings() *Settings {
	return &Settings{
		ContextLimitTokens:      8000,
		TimeoutSummarizeSeconds: 1800,
		TimeoutClearSeconds:     3600,
		ReplyMaxLength:          50,
		Media: MediaSettings{
			Timeout: 60,
		},
	}
}

// LoadSettings reads settings.yaml. A missing file yields defaults; a broken
// file yields defaults plus the parse error so the caller can log it.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return DefaultSettings(), fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}
