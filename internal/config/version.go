package config

import "fmt"

// CurrentVersion is the configuration file version this build understands.
const CurrentVersion = 1

// VersionError describes a configuration version this build cannot load.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Version > e.Current {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade conduit to continue", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is not supported (current: %d)", e.Version, e.Current)
}

// ValidateVersion accepts an unset version or CurrentVersion.
func ValidateVersion(version int) error {
	if version == 0 || version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version, Current: CurrentVersion}
}
