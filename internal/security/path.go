package security

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath     = errors.New("path is empty")
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrReservedName  = errors.New("reserved filename not allowed")
	ErrLeadingHyphen = errors.New("filename cannot start with hyphen")

	reservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
)

// ValidateSavePath checks a user-supplied download destination. Only
// relative paths below the working directory are accepted.
func ValidateSavePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}

	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return ErrPathTraversal
		}
	}

	base := filepath.Base(filepath.Clean(path))
	if isReserved(base) {
		return ErrReservedName
	}
	if strings.HasPrefix(base, "-") {
		return ErrLeadingHyphen
	}
	return nil
}

// SanitizeFilename turns an uploaded file's name into something safe to
// show and to reuse as a file name.
func SanitizeFilename(name string) string {
	name = filepath.Base(filepath.ToSlash(strings.ReplaceAll(name, "\\", "/")))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, strings.ContainsRune(`*?"<>|:`, r):
			continue
		default:
			b.WriteRune(r)
		}
	}

	sanitized := strings.TrimLeft(b.String(), ".-")
	sanitized = strings.TrimRight(sanitized, ". ")

	if isReserved(sanitized) {
		sanitized += "_"
	}
	if sanitized == "" {
		return "file"
	}
	return sanitized
}

func isReserved(base string) bool {
	lower := strings.ToLower(base)
	return reservedNames[strings.TrimSuffix(lower, filepath.Ext(lower))]
}
