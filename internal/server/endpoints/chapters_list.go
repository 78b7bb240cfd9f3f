package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/internal/svcctx"
)

// ChapterInfo is one chapter in a listing.
type ChapterInfo struct {
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Format   string  `json:"format"`
	FileName string  `json:"fileName"`
	// DownloadURL is the server-relative path for fetching this chapter's audio.
	DownloadURL string `json:"downloadUrl"`
}

// ListChaptersResponse is the body of GET /api/audiobooks/{book_id}/chapters.
type ListChaptersResponse struct {
	BookID   string        `json:"bookId"`
	Chapters []ChapterInfo `json:"chapters"`
}

// ListChaptersEndpoint handles GET /api/audiobooks/{book_id}/chapters.
type ListChaptersEndpoint struct{}

func (e *ListChaptersEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/audiobooks/{book_id}/chapters", e.handler
}

func (e *ListChaptersEndpoint) RequiresInit() bool { return true }

// handler lists a book's stored chapters.
//
//	@Summary		List chapters
//	@Description	List the stored chapters of an audiobook, sorted by index
//	@Tags			audiobooks
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Success		200		{object}	ListChaptersResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/audiobooks/{book_id}/chapters [get]
func (e *ListChaptersEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")

	svc := svcctx.GeneratorFrom(r.Context())
	chapters, err := svc.ListChapters(r.Context(), bookID)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	resp := ListChaptersResponse{BookID: bookID, Chapters: make([]ChapterInfo, 0, len(chapters))}
	for _, ch := range chapters {
		resp.Chapters = append(resp.Chapters, ChapterInfo{
			Index:       ch.Index,
			Title:       ch.Title,
			Duration:    ch.Duration,
			Format:      string(ch.Format),
			FileName:    ch.FileName,
			DownloadURL: fmt.Sprintf("/api/audiobooks/%s/chapters/%d/download", bookID, ch.Index),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListChaptersEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "chapters <book-id>",
		Short: "List a book's chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListChaptersResponse
			if err := client.Get(cmd.Context(), fmt.Sprintf("/api/audiobooks/%s/chapters", args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
