package textutil

import (
	"strings"
	"testing"
)

func TestTrackKey(t *testing.T) {
	tests := []struct {
		name    string
		artistA string
		titleA  string
		artistB string
		titleB  string
		same    bool
	}{
		{"case insensitive", "Artist", "Song", "ARTIST", "SONG", true},
		{"first artist only", "A, B, C", "Song", "A", "Song", true},
		{"non-breaking space", "Artist", "My Song", "Artist", "My Song", true},
		{"different titles", "Artist", "Song One", "Artist", "Song Two", false},
		{"different artists", "Artist A", "Song", "Artist B", "Song", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := TrackKey(tt.artistA, tt.titleA)
			b := TrackKey(tt.artistB, tt.titleB)
			if (a == b) != tt.same {
				t.Errorf("TrackKey(%q,%q)=%q vs TrackKey(%q,%q)=%q, want same=%v",
					tt.artistA, tt.titleA, a, tt.artistB, tt.titleB, b, tt.same)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"reserved characters stripped", `AC/DC: "Back" <in> Black?`, "ACDC Back in Black"},
		{"path traversal removed", "../../etc/passwd", "etcpasswd"},
		{"leading dots trimmed", "...hidden", "hidden"},
		{"empty input", "", "Unknown Track"},
		{"only invalid input", `<>:"/\|?*`, "Unknown Track"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameCapsLengthKeepingExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".mp3"
	got := SanitizeFilename(long)
	if len(got) > 200 {
		t.Errorf("length %d exceeds cap", len(got))
	}
	if !strings.HasSuffix(got, ".mp3") {
		t.Errorf("extension lost: %q", got)
	}
}

func TestSanitizeFilenameLongTailAfterDot(t *testing.T) {
	// A dot followed by a long run of characters is part of the title,
	// not an extension, and must not defeat the length cap.
	inputs := []string{
		"ab." + strings.Repeat("x", 201),
		strings.Repeat("y", 150) + "." + strings.Repeat("z", 150),
		"." + strings.Repeat("w", 250),
	}
	for _, input := range inputs {
		got := SanitizeFilename(input)
		if len(got) > 200 {
			t.Errorf("SanitizeFilename(%d chars) = %d chars, exceeds cap", len(input), len(got))
		}
		if got == "" {
			t.Errorf("SanitizeFilename(%q...) returned empty", input[:10])
		}
	}
}

func TestSanitizeFilenameNeverEscapesDirectory(t *testing.T) {
	hostile := []string{"..", "../", "a/../../b", `..\..\win`, "/absolute/path"}
	for _, input := range hostile {
		got := SanitizeFilename(input)
		if strings.Contains(got, "..") || strings.Contains(got, "/") || strings.Contains(got, `\`) {
			t.Errorf("SanitizeFilename(%q) = %q still contains traversal characters", input, got)
		}
	}
}

func TestDisplayFilename(t *testing.T) {
	if got := DisplayFilename("Artist", "Title"); got != "Artist - Title.mp3" {
		t.Errorf("got %q", got)
	}
	if got := DisplayFilename("", ""); got != "Unknown - Unknown.mp3" {
		t.Errorf("got %q", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Morning Swim", "morning-swim"},
		{"Rock & Roll!", "rock--roll"},
		{"L'été", "lt"},
		{"", "playlist"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.input); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
