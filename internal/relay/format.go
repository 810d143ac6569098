package relay

import "strings"

// AudioFormat is the container requested from the daemon.
type AudioFormat int

const (
	FormatOgg AudioFormat = iota
	FormatMP3
)

// ParseFormat selects MP3 only for a case-insensitive "mp3"; every other
// value, including "", selects OGG.
func ParseFormat(preferred string) AudioFormat {
	if strings.EqualFold(preferred, "mp3") {
		return FormatMP3
	}
	return FormatOgg
}

func (f AudioFormat) String() string {
	if f == FormatMP3 {
		return "mp3"
	}
	return "ogg"
}

// DefaultContentType is used when the daemon omits Content-Type.
func (f AudioFormat) DefaultContentType() string {
	if f == FormatMP3 {
		return "audio/mpeg"
	}
	return "audio/ogg"
}
