package downloader

import (
	"net/url"
	"path"
	"strings"
)

const defaultExtension = ".mp4"

// videoExtensions are looked for anywhere in a URL whose path has no extension, in this order.
var videoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".flv", ".wmv"}

// SafeFileName replaces every character outside [A-Za-z0-9.] with an underscore.
func SafeFileName(title string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.':
			return r
		default:
			return '_'
		}
	}, title)
}

// Extension infers the file extension for a media URL: the extension of the URL path, else the
// first known video extension appearing anywhere in the URL, else .mp4.
func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}

	if ext := path.Ext(p); ext != "" && ext != "." {
		return ext
	}

	for _, ext := range videoExtensions {
		if strings.Contains(rawURL, ext) {
			return ext
		}
	}

	return defaultExtension
}

// FileName is the on-disk name for title downloaded from rawURL.
func FileName(title, rawURL string) string {
	return SafeFileName(title) + Extension(rawURL)
}
