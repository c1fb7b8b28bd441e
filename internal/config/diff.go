package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecognitionChanged covers the default locale and the interim flag.
	// Instance topology changes require a restart and are not tracked.
	RecognitionChanged bool

	// SynthesisChanged covers the default voice, speed, and pitch. The base
	// URL requires a restart and is not tracked.
	SynthesisChanged bool
}

// Any reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.RecognitionChanged || d.SynthesisChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Recognition.DefaultLocale != new.Recognition.DefaultLocale ||
		old.Recognition.Interim != new.Recognition.Interim {
		d.RecognitionChanged = true
	}

	if old.Synthesis.DefaultVoice != new.Synthesis.DefaultVoice ||
		old.Synthesis.Speed != new.Synthesis.Speed ||
		old.Synthesis.Pitch != new.Synthesis.Pitch {
		d.SynthesisChanged = true
	}

	return d
}
