package cli

// Flags holds all command-line flag values
type Flags struct {
	// General flags
	CfgFile    string
	OutputDir  string
	Status     bool
	Deck       bool
	Force      bool
	SkipAudio  bool
	SkipImages bool

	// Batch flags
	BatchSize   int
	TargetCount int
	Stage       string

	// Enrichment flags
	Language      string
	LanguageCode  string
	EnrichModel   string
	CacheTTLHours int

	// Audio flags
	AudioFormat       string
	OpenAIModel       string
	OpenAIVoice       string
	OpenAISpeed       float64
	OpenAIInstruction string
}

// NewFlags creates a new Flags instance with default values
func NewFlags() *Flags {
	return &Flags{
		BatchSize:     25,
		TargetCount:   10,
		Language:      "Bulgarian",
		LanguageCode:  "bg",
		EnrichModel:   "gpt-4o-mini",
		CacheTTLHours: 72,
		AudioFormat:   "mp3",
		OpenAIModel:   "gpt-4o-mini-tts",
		OpenAIVoice:   "alloy",
		OpenAISpeed:   1.0,
	}
}
