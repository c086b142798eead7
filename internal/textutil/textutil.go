// Package textutil contains the text normalization and filename
// sanitization rules shared by the store, library, and reconciliation
// layers. Track identity and on-disk filenames both depend on these rules
// being applied identically everywhere.
package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// NormalizeText replaces unicode whitespace variants with regular spaces and
// normalizes to NFC so visually identical strings compare equal.
func NormalizeText(text string) string {
	replacer := strings.NewReplacer(
		" ", " ", // non-breaking space
		"​", "", // zero-width space
		" ", " ", // thin space
		" ", " ", // narrow no-break space
	)
	return norm.NFC.String(replacer.Replace(text))
}

// TrackKey builds the normalized lookup key for an artist/title pair.
// Only the first listed artist participates, so "A, B - Song" and
// "A - Song" resolve to the same key.
func TrackKey(artist, title string) string {
	a := strings.ToLower(NormalizeText(artist))
	first := strings.TrimSpace(strings.SplitN(a, ",", 2)[0])
	t := strings.TrimSpace(strings.ToLower(NormalizeText(title)))
	return first + "::" + t
}

// SanitizeFilename strips characters that are invalid on common filesystems,
// removes path traversal sequences, and trims leading/trailing dots and
// spaces. The result is never empty and never escapes the target directory.
func SanitizeFilename(filename string) string {
	filename = NormalizeText(filename)
	filename = invalidFilenameChars.ReplaceAllString(filename, "")
	filename = strings.ReplaceAll(filename, "..", "")
	filename = strings.Trim(filename, ". ")

	if filename == "" {
		filename = "Unknown Track"
	}

	// Cap length, preserving the extension if present. A long tail after
	// the last dot is part of the name, not an extension.
	if len(filename) > 200 {
		ext := ""
		if idx := strings.LastIndex(filename, "."); idx >= 0 && len(filename)-idx <= 8 {
			ext = filename[idx:]
			filename = filename[:idx]
		}
		if max := 200 - len(ext); len(filename) > max {
			filename = filename[:max]
		}
		filename += ext
	}
	return filename
}

// DisplayFilename builds the playlist-visible filename for a track.
func DisplayFilename(artist, title string) string {
	if artist == "" {
		artist = "Unknown"
	}
	if title == "" {
		title = "Unknown"
	}
	name := SanitizeFilename(artist + " - " + title)
	return name + ".mp3"
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9\-]`)

// Slugify converts a playlist name into a folder-safe identifier. It does
// not handle collisions; callers append numeric suffixes as needed.
func Slugify(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "'", "")
	slug = slugInvalid.ReplaceAllString(slug, "")
	if slug == "" {
		slug = "playlist"
	}
	return slug
}
