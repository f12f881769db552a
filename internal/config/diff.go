package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// is applied live; every other change is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed sections that take effect only after
	// a restart, in a stable order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("voice.endpoint", old.Voice.Endpoint != new.Voice.Endpoint)
	restart("voice.responder", old.Voice.Responder != new.Voice.Responder)
	restart("voice.keep_open", old.Voice.KeepOpenEnabled() != new.Voice.KeepOpenEnabled())
	restart("voice.response_timeout", old.Voice.ResponseTimeout != new.Voice.ResponseTimeout)
	restart("voice.audio", old.Voice.SampleRate != new.Voice.SampleRate ||
		old.Voice.FrameSamples != new.Voice.FrameSamples ||
		old.Voice.CaptureEncoding != new.Voice.CaptureEncoding ||
		!slices.Equal(old.Voice.CaptureCommand, new.Voice.CaptureCommand) ||
		!slices.Equal(old.Voice.PlaybackCommand, new.Voice.PlaybackCommand))
	restart("voice.categories", !slices.Equal(old.Voice.Categories, new.Voice.Categories))
	restart("voice.recognition", old.Voice.Language != new.Voice.Language ||
		!slices.Equal(old.Voice.Keywords, new.Voice.Keywords))
	restart("voice.user_phone", old.Voice.UserPhone != new.Voice.UserPhone)
	restart("voice.snapshots", old.Voice.SnapshotsEnabled() != new.Voice.SnapshotsEnabled())
	restart("providers", !reflect.DeepEqual(old.Providers, new.Providers))
	restart("storage", old.Storage != new.Storage)
	restart("speech", old.Speech.Disabled != new.Speech.Disabled ||
		!slices.Equal(old.Speech.Command, new.Speech.Command))

	return d
}
