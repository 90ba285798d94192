package orchestrator

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors Config with yaml tags and duration-friendly string
// fields, matching the yaml-tagged config pattern used for the telemetry
// provider this build is grounded on (see DESIGN.md, telemetry entry).
type yamlConfig struct {
	SampleRate         int    `yaml:"sample_rate"`
	Channels           int    `yaml:"channels"`
	BytesPerSamp       int    `yaml:"bytes_per_sample"`
	MaxContextMessages int    `yaml:"max_context_messages"`
	VoiceStyle         string `yaml:"voice_style"`
	Language           string `yaml:"language"`

	STTTimeout string `yaml:"stt_timeout"`
	LLMTimeout string `yaml:"llm_timeout"`
	TTSTimeout string `yaml:"tts_timeout"`

	MinInterruptChars   int `yaml:"min_interrupt_chars"`
	MinWordsToInterrupt int `yaml:"min_words_to_interrupt"`
	CaptureQueueBound   int `yaml:"capture_queue_bound"`

	SilenceWindow string `yaml:"silence_window"`

	TTSMaxRetries     int    `yaml:"tts_max_retries"`
	TTSRetryBaseDelay string `yaml:"tts_retry_base_delay"`

	PauseMargin string `yaml:"pause_margin"`

	VADStartThreshold    float64 `yaml:"vad_start_threshold"`
	VADStopThreshold     float64 `yaml:"vad_stop_threshold"`
	VADMaxGap            string  `yaml:"vad_max_gap"`
	VADMinSpeechDuration string  `yaml:"vad_min_speech_duration"`

	GeneratorRateLimit float64 `yaml:"generator_rate_limit"`
	GeneratorRateBurst int     `yaml:"generator_rate_burst"`
}

// LoadConfig reads a YAML config file layered on top of DefaultConfig: any
// field absent from the file (zero value in yamlConfig) keeps its default.
// The core never reads environment variables itself; only the cmd/agent
// composition root does, before calling LoadConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return cfg, err
	}

	if y.SampleRate != 0 {
		cfg.SampleRate = y.SampleRate
	}
	if y.Channels != 0 {
		cfg.Channels = y.Channels
	}
	if y.BytesPerSamp != 0 {
		cfg.BytesPerSamp = y.BytesPerSamp
	}
	if y.MaxContextMessages != 0 {
		cfg.MaxContextMessages = y.MaxContextMessages
	}
	if y.VoiceStyle != "" {
		cfg.VoiceStyle = Voice(y.VoiceStyle)
	}
	if y.Language != "" {
		cfg.Language = Language(y.Language)
	}
	if d, err := time.ParseDuration(y.STTTimeout); err == nil {
		cfg.STTTimeout = d
	}
	if d, err := time.ParseDuration(y.LLMTimeout); err == nil {
		cfg.LLMTimeout = d
	}
	if d, err := time.ParseDuration(y.TTSTimeout); err == nil {
		cfg.TTSTimeout = d
	}
	if y.MinInterruptChars != 0 {
		cfg.MinInterruptChars = y.MinInterruptChars
	}
	if y.MinWordsToInterrupt != 0 {
		cfg.MinWordsToInterrupt = y.MinWordsToInterrupt
	}
	if y.CaptureQueueBound != 0 {
		cfg.CaptureQueueBound = y.CaptureQueueBound
	}
	if d, err := time.ParseDuration(y.SilenceWindow); err == nil {
		cfg.SilenceWindow = d
	}
	if y.TTSMaxRetries != 0 {
		cfg.TTSMaxRetries = y.TTSMaxRetries
	}
	if d, err := time.ParseDuration(y.TTSRetryBaseDelay); err == nil {
		cfg.TTSRetryBaseDelay = d
	}
	if d, err := time.ParseDuration(y.PauseMargin); err == nil {
		cfg.PauseMargin = d
	}
	if y.VADStartThreshold != 0 {
		cfg.VADStartThreshold = y.VADStartThreshold
	}
	if y.VADStopThreshold != 0 {
		cfg.VADStopThreshold = y.VADStopThreshold
	}
	if d, err := time.ParseDuration(y.VADMaxGap); err == nil {
		cfg.VADMaxGap = d
	}
	if d, err := time.ParseDuration(y.VADMinSpeechDuration); err == nil {
		cfg.VADMinSpeechDuration = d
	}
	if y.GeneratorRateLimit != 0 {
		cfg.GeneratorRateLimit = y.GeneratorRateLimit
	}
	if y.GeneratorRateBurst != 0 {
		cfg.GeneratorRateBurst = y.GeneratorRateBurst
	}

	return cfg, nil
}
