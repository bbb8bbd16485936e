// Package backlog expands a manifest of storage references (devices,
// sessions, files) into disjoint decode batches and runs them through
// the external decoder.
package backlog

import (
	"regexp"
	"strings"
)

// ValidExtensions are the raw log file extensions the planner accepts.
var ValidExtensions = []string{".MF4", ".MFC", ".MFE", ".MFM"}

var (
	deviceRe  = regexp.MustCompile(`^[0-9A-F]{8}/$`)
	sessionRe = regexp.MustCompile(`^[0-9A-F]{8}/[0-9]{8}/$`)
)

// RefKind classifies a backlog reference.
type RefKind int

const (
	RefUnknown RefKind = iota
	RefDevice
	RefSession
	RefFile
)

func (k RefKind) String() string {
	switch k {
	case RefDevice:
		return "device"
	case RefSession:
		return "session"
	case RefFile:
		return "file"
	default:
		return "unknown"
	}
}

// HasValidExtension reports whether the name ends with a raw log
// extension, case-insensitively.
func HasValidExtension(name string) bool {
	upper := strings.ToUpper(name)
	for _, ext := range ValidExtensions {
		if strings.HasSuffix(upper, ext) {
			return true
		}
	}
	return false
}

// looksLikeFile reports whether a path names a file rather than a
// prefix: a valid extension, or any dot in the last segment.
func looksLikeFile(path string) bool {
	if HasValidExtension(path) {
		return true
	}
	parts := strings.Split(path, "/")
	return strings.Contains(parts[len(parts)-1], ".")
}

// Normalize appends a trailing slash to prefix-looking paths so the
// device/session patterns match refs written without one.
func Normalize(path string) string {
	if path == "" || looksLikeFile(path) || strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

// Classify resolves a backlog reference to its kind and normalized
// form. Unknown refs are skipped by the planner with a log entry.
func Classify(path string) (RefKind, string) {
	normalized := Normalize(path)
	switch {
	case deviceRe.MatchString(normalized):
		return RefDevice, normalized
	case sessionRe.MatchString(normalized):
		return RefSession, normalized
	case HasValidExtension(normalized):
		return RefFile, normalized
	default:
		return RefUnknown, normalized
	}
}

// sessionOf infers the "device/session/" prefix of a file path.
func sessionOf(filePath string) (string, bool) {
	parts := strings.Split(filePath, "/")
	if len(parts) < 3 {
		return "", false
	}
	return parts[0] + "/" + parts[1] + "/", true
}

// deviceOf returns the leading path segment.
func deviceOf(path string) string {
	if i := strings.Index(path, "/"); i > 0 {
		return path[:i]
	}
	return ""
}
