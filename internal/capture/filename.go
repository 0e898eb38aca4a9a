package capture

import (
	"net/url"
	"path"
	"strings"
)

// DefaultFilename is used when the source URL does not name the file.
const DefaultFilename = "cv.pdf"

// ResolveFilename derives the output filename from the sourceURL's filename
// query parameter, appending ".pdf" when missing. fallback is used when the
// parameter is absent or unusable.
func ResolveFilename(sourceURL, fallback string) string {
	if fallback == "" {
		fallback = DefaultFilename
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return fallback
	}
	name := strings.TrimSpace(u.Query().Get("filename"))
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallback
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
