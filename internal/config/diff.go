package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log
// level, the speech step, the intro phrase and the history size are applied
// while running; everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StepChanged bool
	NewStep     int

	IntroChanged bool
	NewIntro     string

	HistorySizeChanged bool
	NewHistorySize     int

	// RestartRequired names the top-level sections whose changes take
	// effect only after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.StepChanged && !d.IntroChanged &&
		!d.HistorySizeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Speech.Step != new.Speech.Step {
		d.StepChanged = true
		d.NewStep = new.Speech.Step
	}
	if old.Speech.Intro != new.Speech.Intro {
		d.IntroChanged = true
		d.NewIntro = new.Speech.Intro
	}
	if old.History.Size != new.History.Size {
		d.HistorySizeChanged = true
		d.NewHistorySize = new.History.Size
	}

	// Compare the remaining fields with the hot-reloadable ones masked out.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldSpeech, newSpeech := old.Speech, new.Speech
	oldSpeech.Step, newSpeech.Step = 0, 0
	oldSpeech.Intro, newSpeech.Intro = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"parser", old.Parser, new.Parser},
		{"browser", old.Browser, new.Browser},
		{"speech", oldSpeech, newSpeech},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
