// Package validation provides common validation functions for IDs and paths.
// This package has no dependencies on other internal packages to avoid import cycles.
package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidProjectID indicates the project_id value is malformed or attempts path traversal.
var ErrInvalidProjectID = errors.New("invalid project_id")

// ErrInvalidSessionID indicates the session_id value is malformed or attempts path traversal.
var ErrInvalidSessionID = errors.New("invalid session_id")

// ErrInvalidFilename indicates a static-route filename attempts path
// traversal or contains characters outside the allowed set.
var ErrInvalidFilename = errors.New("invalid filename")

// ProjectID checks if a project ID is safe for use in filesystem paths.
// Returns cleaned project ID and error if validation fails.
func ProjectID(projectID string) (string, error) {
	if projectID == "" {
		return "", nil
	}

	// IDs must be a single path segment.
	if projectID == "." || projectID == ".." {
		return "", ErrInvalidProjectID
	}
	if strings.ContainsAny(projectID, `/\\`) {
		return "", ErrInvalidProjectID
	}

	cleanPID := filepath.Clean(projectID)
	if cleanPID != projectID ||
		strings.HasPrefix(cleanPID, "..") ||
		strings.Contains(cleanPID, string(os.PathSeparator)+"..") ||
		filepath.IsAbs(cleanPID) {
		return "", ErrInvalidProjectID
	}

	return cleanPID, nil
}

// SessionID checks if a session ID is safe for use as a single filesystem path segment.
func SessionID(sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}

	if sessionID == "." || sessionID == ".." {
		return "", ErrInvalidSessionID
	}
	if strings.ContainsAny(sessionID, `/\\`) {
		return "", ErrInvalidSessionID
	}

	cleanSID := filepath.Clean(sessionID)
	if cleanSID != sessionID ||
		strings.HasPrefix(cleanSID, "..") ||
		strings.Contains(cleanSID, string(os.PathSeparator)+"..") ||
		filepath.IsAbs(cleanSID) {
		return "", ErrInvalidSessionID
	}

	return cleanSID, nil
}

// Filename strips any character outside [A-Za-z0-9._-] from name and rejects
// the result if it is empty or attempts path traversal, for use on the
// static evidence routes (/evidence/screenshots/{file}, /evidence/videos/{file}).
func Filename(name string) (string, error) {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.Contains(cleaned, "..") {
		return "", ErrInvalidFilename
	}
	return cleaned, nil
}
