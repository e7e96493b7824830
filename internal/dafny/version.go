package dafny

// version.go decodes replies to the version and versioncheck handshakes.

import "strings"

const versionMarker = "VERSION:"

// ParseVersion reads lines containing VERSION:<value>, UPDATE_NECESSARY, and
// FAILURE.
func ParseVersion(log string) VersionInfo {
	var info VersionInfo
	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, versionMarker):
			_, v, _ := strings.Cut(line, versionMarker)
			info.Version = strings.TrimSpace(v)
		case strings.Contains(line, "UPDATE_NECESSARY"):
			info.UpdateNecessary = true
		case line == "FAILURE" || strings.HasPrefix(line, failureMarker):
			info.Failed = true
		}
	}
	return info
}
