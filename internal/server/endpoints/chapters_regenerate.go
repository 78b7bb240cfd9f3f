package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/internal/audiobook"
	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/svcctx"
)

// RegenerateChapterRequest is the body of
// POST /api/audiobooks/{book_id}/chapters/{index}.
type RegenerateChapterRequest struct {
	ChapterTitle string          `json:"chapterTitle"`
	Buffer       AudioBuffer     `json:"buffer"`
	Format       string          `json:"format,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
}

// RegenerateChapterEndpoint handles POST /api/audiobooks/{book_id}/chapters/{index}.
type RegenerateChapterEndpoint struct{}

func (e *RegenerateChapterEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/audiobooks/{book_id}/chapters/{index}", e.handler
}

func (e *RegenerateChapterEndpoint) RequiresInit() bool { return true }

// handler replaces the chapter at one index.
//
//	@Summary		Regenerate a chapter
//	@Description	Replace the chapter at an index with newly synthesized audio
//	@Tags			audiobooks
//	@Accept			json
//	@Produce		json
//	@Param			X-Owner-ID	header		string						false	"Owner scope for the book"
//	@Param			book_id		path		string						true	"Book ID"
//	@Param			index		path		int							true	"Chapter index"
//	@Param			request		body		RegenerateChapterRequest	true	"Replacement chapter audio"
//	@Success		200			{object}	IngestChapterResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		499			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/audiobooks/{book_id}/chapters/{index} [post]
func (e *RegenerateChapterEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}

	var req RegenerateChapterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Buffer) == 0 {
		writeError(w, http.StatusBadRequest, "buffer is required")
		return
	}

	var format media.Format
	if req.Format != "" {
		format, err = media.ParseFormat(req.Format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var settings *audiobook.Settings
	if len(req.Settings) > 0 {
		parsed, err := audiobook.ParseSettings(req.Settings)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		settings = &parsed
	}

	svc := svcctx.GeneratorFrom(r.Context())
	result, err := svc.RegenerateChapter(r.Context(), audiobook.IngestInput{
		BookID:   bookID,
		OwnerID:  r.Header.Get("X-Owner-ID"),
		Title:    req.ChapterTitle,
		Audio:    req.Buffer,
		Format:   format,
		Index:    &index,
		Settings: settings,
	})
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IngestChapterResponse{
		BookID:   result.BookID,
		Index:    result.Index,
		Title:    result.Title,
		Duration: result.Duration,
		Status:   "completed",
		Format:   string(result.Format),
	})
}

func (e *RegenerateChapterEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		title  string
		format string
		inFile string
	)
	cmd := &cobra.Command{
		Use:   "regenerate <book-id> <index> --file <audio-file> --title <chapter-title>",
		Short: "Regenerate one chapter from an audio file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(inFile)
			if err != nil {
				return fmt.Errorf("failed to read audio file: %w", err)
			}

			client := api.NewClient(getServerURL())
			var resp IngestChapterResponse
			path := fmt.Sprintf("/api/audiobooks/%s/chapters/%s", args[0], args[1])
			err = client.Post(cmd.Context(), path, RegenerateChapterRequest{
				ChapterTitle: title,
				Buffer:       data,
				Format:       format,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&inFile, "file", "", "Audio file to ingest (required)")
	cmd.Flags().StringVar(&title, "title", "", "Chapter title (required)")
	cmd.Flags().StringVar(&format, "format", "", "Target format: mp3 or m4b")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("title")
	return cmd
}
