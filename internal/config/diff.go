package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LiveChanged is true when any conversation setting differs. These take
	// effect at the next session start.
	LiveChanged bool
	LiveChanges []string

	// SessionChanged is true when the queue bounds differ. They also take
	// effect at the next session start.
	SessionChanged bool

	// RestartRequired lists sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Live, new.Live
	for _, f := range []struct {
		name    string
		changed bool
	}{
		{"model", o.Model != n.Model},
		{"voice", o.Voice != n.Voice},
		{"instructions", o.Instructions != n.Instructions},
		{"input_transcription", o.InputTranscription != n.InputTranscription},
		{"output_transcription", o.OutputTranscription != n.OutputTranscription},
	} {
		if f.changed {
			d.LiveChanges = append(d.LiveChanges, f.name)
		}
	}
	d.LiveChanged = len(d.LiveChanges) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if o.Name != n.Name || o.APIKey != n.APIKey || o.BaseURL != n.BaseURL {
		d.RestartRequired = append(d.RestartRequired, "live.transport")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	d.SessionChanged = old.Session != new.Session
	return d
}
