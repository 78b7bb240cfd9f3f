package media

import (
	"fmt"
	"strings"
)

// Format is a target audiobook container format.
type Format string

const (
	// FormatMP3 encodes chapters with libmp3lame in an MP3 container.
	FormatMP3 Format = "mp3"
	// FormatM4B encodes chapters with AAC in an MP4 container.
	FormatM4B Format = "m4b"
)

// DefaultFormat is used when a request does not specify a format.
const DefaultFormat = FormatMP3

// ParseFormat normalizes user input to a canonical Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatMP3):
		return FormatMP3, nil
	case string(FormatM4B), "m4a", "mp4":
		return FormatM4B, nil
	default:
		return "", fmt.Errorf("unsupported format %q (supported: mp3, m4b)", s)
	}
}

// Codec returns the ffmpeg audio codec for the format.
func (f Format) Codec() string {
	if f == FormatM4B {
		return "aac"
	}
	return "libmp3lame"
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatM4B {
		return "audio/mp4"
	}
	return "audio/mpeg"
}

// Ext returns the file extension (without dot) for the format.
func (f Format) Ext() string {
	return string(f)
}
