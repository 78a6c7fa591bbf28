package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
)

// normalizeRecordingsRelative converts a possibly absolute or mixed-slash
// path into one relative to the recordings directory. Leading
// "recordings/" segments and anything before the last "/recordings/" are
// stripped; traversal outside the base is rejected.
func normalizeRecordingsRelative(p string) (string, error) {
	s := strings.TrimSpace(p)
	if s == "" {
		return "", fmt.Errorf("invalid path")
	}
	s = strings.ReplaceAll(s, "\\", "/")
	if i := strings.LastIndex(strings.ToLower(s), "/recordings/"); i >= 0 {
		s = s[i+len("/recordings/"):]
	}
	for strings.HasPrefix(strings.ToLower(s), "recordings/") {
		s = s[len("recordings/"):]
	}
	s = strings.TrimPrefix(s, "/")
	s = filepath.Clean(s)
	if s == "." || strings.HasPrefix(s, "..") || filepath.IsAbs(s) {
		return "", fmt.Errorf("invalid path")
	}
	return s, nil
}

func isInsideBase(p, base string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// resolveSavedFolder maps a panel-supplied folder path onto the recordings
// directory. With no base configured the path is passed through.
func resolveSavedFolder(base, folder string) (string, error) {
	if base == "" {
		return strings.TrimSpace(folder), nil
	}
	rel, err := normalizeRecordingsRelative(folder)
	if err != nil {
		return "", err
	}
	target := filepath.Join(filepath.Clean(base), rel)
	if !isInsideBase(target, base) {
		return "", fmt.Errorf("invalid path")
	}
	return target, nil
}
