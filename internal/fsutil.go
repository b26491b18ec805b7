package internal

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultFileFormat is used when the itag is not recognized.
const DefaultFileFormat = "m4a"

// FileFormatForItag maps the requested audio itag to the container
// extension the raw stream arrives in.
func FileFormatForItag(itag int64) string {
	switch itag {
	case 249, 250, 251:
		return "webm"
	case 139, 140, 141:
		return "m4a"
	default:
		return DefaultFileFormat
	}
}

// SanitizePath strips characters that are illegal in library paths,
// component by component.
func SanitizePath(path string) string {
	invalidChars := regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	components := strings.Split(filepath.ToSlash(path), "/")
	for i, component := range components {
		if component == "" {
			continue
		}
		safeComponent := invalidChars.ReplaceAllString(component, "_")
		safeComponent = strings.Trim(safeComponent, " .")
		const maxLength = 255
		if len(safeComponent) > maxLength {
			safeComponent = safeComponent[:maxLength]
		}
		components[i] = safeComponent
	}
	sanitizedPath := filepath.Join(components...)
	for _, format := range []string{"m4a", "webm"} {
		sanitizedPath = strings.Replace(sanitizedPath, fmt.Sprintf(" .%s", format), fmt.Sprintf(".%s", format), -1)
	}
	return sanitizedPath
}
