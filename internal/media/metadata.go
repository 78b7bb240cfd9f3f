package media

import (
	"fmt"
	"math"
	"strings"
)

// ChapterMark describes one chapter for embedded chapter metadata.
type ChapterMark struct {
	Title    string
	Duration float64 // seconds
}

// BuildChapterMetadata renders an FFMETADATA1 document with one [CHAPTER]
// block per mark. START/END are running millisecond offsets computed from
// cumulative durations: chapter i's START equals chapter i-1's END, and the
// first START is 0.
func BuildChapterMetadata(marks []ChapterMark) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")

	startMS := int64(0)
	for _, mark := range marks {
		endMS := startMS + int64(math.Round(mark.Duration*1000))
		b.WriteString("[CHAPTER]\n")
		b.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", startMS)
		fmt.Fprintf(&b, "END=%d\n", endMS)
		fmt.Fprintf(&b, "title=%s\n", escapeMetadataValue(mark.Title))
		startMS = endMS
	}

	return b.String()
}

// escapeMetadataValue escapes a value for the ffmetadata text format.
// The format treats '=', ';', '#', '\' and newline as special.
func escapeMetadataValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '=', ';', '#', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString("\\\n")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
