// Package metaprobe reads tags and duration from downloaded audio files.
// The downloader's metadata is authoritative for identity; the probe
// fills in what the remote side did not provide and validates that a
// downloaded file really is audio.
package metaprobe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"
)

// Info is the result of probing one file.
type Info struct {
	Title           string
	Artist          string
	Album           string
	DurationSeconds int
	SizeBytes       int64
}

// Prober reads audio metadata for the configured formats.
type Prober struct {
	supportedFormats []string
}

// NewProber returns a prober for the given extensions (with leading dots).
func NewProber(supportedFormats []string) *Prober {
	if len(supportedFormats) == 0 {
		supportedFormats = []string{".mp3", ".flac", ".wav"}
	}
	return &Prober{supportedFormats: supportedFormats}
}

// IsAudioFile checks if a file has a supported audio extension.
func (p *Prober) IsAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range p.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// Probe reads tags and duration from an audio file. Tag failures are not
// fatal; the filename stands in for a missing title. A duration failure
// reports 0.
func (p *Prober) Probe(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Title:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		SizeBytes: stat.Size(),
	}

	if duration, durErr := calculateDuration(path); durErr == nil {
		info.DurationSeconds = duration
	}

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return info, nil
	}
	if title := metadata.Title(); title != "" {
		info.Title = title
	}
	info.Artist = metadata.Artist()
	info.Album = metadata.Album()
	return info, nil
}

func calculateDuration(path string) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return durationMP3(path)
	case ".flac":
		return durationFLAC(path)
	case ".wav":
		return durationWAV(path)
	default:
		return 0, fmt.Errorf("unsupported format: %s", filepath.Ext(path))
	}
}

// MP3 duration by summing frame durations; estimate from file size only
// when no frame decodes at all.
func durationMP3(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return estimateFromFileSize(path, 192000)
			}
			break
		}
		total += fr.Duration()
		frames++
	}
	return int(total.Seconds()), nil
}

// FLAC duration via the STREAMINFO block.
func durationFLAC(path string) (int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		secs := float64(si.NSamples) / float64(si.SampleRate)
		return int(secs + 0.5), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration approximated from file size and header parameters.
func durationWAV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	headerSize := int64(44)
	pcmBytes := st.Size() - headerSize
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	bytesPerSampleFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if bytesPerSampleFrame <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	sampleFrames := pcmBytes / bytesPerSampleFrame
	secs := float64(sampleFrames) / float64(dec.SampleRate)
	return int(secs + 0.5), nil
}

func estimateFromFileSize(path string, bitrate int) (int, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	return int((st.Size() * 8) / int64(bitrate)), nil
}
