package audiobook

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/openreader/audiobookd/internal/media"
)

// Chapter objects are named {paddedIndex+1}__{escapedTitle}.{ext} so the
// stored listing sorts in playback order and retitling a chapter changes its
// file name. The assembled artifact and its manifest live beside them under
// fixed names.

var bookIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidBookID reports whether id is safe to use in URLs and object keys.
func ValidBookID(id string) bool {
	return bookIDPattern.MatchString(id)
}

// ChapterFileName returns the canonical object file name for a chapter.
func ChapterFileName(index int, title string, format media.Format) string {
	return fmt.Sprintf("%03d__%s.%s", index+1, url.PathEscape(title), format.Ext())
}

// ChapterKey returns the full object key for a chapter.
func ChapterKey(bookID string, index int, title string, format media.Format) string {
	return bookID + "/" + ChapterFileName(index, title, format)
}

// IndexPrefix returns the file-name prefix shared by every object stored for
// the given chapter index, regardless of title or format.
func IndexPrefix(index int) string {
	return fmt.Sprintf("%03d__", index+1)
}

// ArtifactKey returns the object key of the assembled book file.
func ArtifactKey(bookID string, format media.Format) string {
	return bookID + "/complete." + format.Ext()
}

// ManifestKey returns the object key of the assembled book's manifest.
func ManifestKey(bookID string, format media.Format) string {
	return ArtifactKey(bookID, format) + ".manifest.json"
}

// IsArtifactFileName reports whether name is an assembled artifact or
// manifest rather than a chapter object.
func IsArtifactFileName(name string) bool {
	return strings.HasPrefix(name, "complete.")
}

// ParseChapterFileName decodes a canonical chapter file name back into its
// index, title, and format. Names that do not match the canonical shape
// return an error; callers skip those objects.
func ParseChapterFileName(name string) (int, string, media.Format, error) {
	// The extension is everything after the last dot; escaped titles may
	// contain literal dots of their own.
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return 0, "", "", fmt.Errorf("chapter file name %q has no extension", name)
	}
	stem, ext := name[:dot], name[dot+1:]

	format, err := media.ParseFormat(ext)
	if err != nil {
		return 0, "", "", fmt.Errorf("chapter file name %q: %w", name, err)
	}

	padded, escaped, ok := strings.Cut(stem, "__")
	if !ok {
		return 0, "", "", fmt.Errorf("chapter file name %q lacks index separator", name)
	}
	n, err := strconv.Atoi(padded)
	if err != nil || n < 1 {
		return 0, "", "", fmt.Errorf("chapter file name %q has invalid index %q", name, padded)
	}

	title, err := url.PathUnescape(escaped)
	if err != nil {
		return 0, "", "", fmt.Errorf("chapter file name %q has invalid title encoding: %w", name, err)
	}

	return n - 1, title, format, nil
}
