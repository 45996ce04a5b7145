package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// UserDictChanged is true when the dictionary store moved; the running
	// dictionary should be reloaded from the new source.
	UserDictChanged bool

	// ModelsAdded and ModelsRemoved list bundle files present in only one of
	// the two configs. Directory changes are reported through ModelDirChanged.
	ModelsAdded     []string
	ModelsRemoved   []string
	ModelDirChanged bool
}

// IsZero reports whether d carries no change.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.UserDictChanged && !d.ModelDirChanged &&
		len(d.ModelsAdded) == 0 && len(d.ModelsRemoved) == 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.UserDict != new.UserDict {
		d.UserDictChanged = true
	}

	d.ModelDirChanged = old.Models.Dir != new.Models.Dir
	for _, f := range new.Models.Files {
		if !slices.Contains(old.Models.Files, f) && !slices.Contains(d.ModelsAdded, f) {
			d.ModelsAdded = append(d.ModelsAdded, f)
		}
	}
	for _, f := range old.Models.Files {
		if !slices.Contains(new.Models.Files, f) && !slices.Contains(d.ModelsRemoved, f) {
			d.ModelsRemoved = append(d.ModelsRemoved, f)
		}
	}

	return d
}
