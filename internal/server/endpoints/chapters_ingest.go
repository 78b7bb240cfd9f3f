package endpoints

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/internal/audiobook"
	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/svcctx"
)

// AudioBuffer accepts chapter audio either as a base64 string or as a JSON
// array of byte values (the shape a JavaScript Buffer serializes to).
type AudioBuffer []byte

func (b *AudioBuffer) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("buffer is not valid base64: %w", err)
		}
		*b = decoded
		return nil
	}

	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("buffer must be a base64 string or byte array: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("buffer value %d at position %d is out of byte range", n, i)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

func (b AudioBuffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

// IngestChapterRequest is the body of POST /api/audiobooks/chapters.
type IngestChapterRequest struct {
	ChapterTitle string          `json:"chapterTitle"`
	Buffer       AudioBuffer     `json:"buffer"`
	BookID       string          `json:"bookId,omitempty"`
	Format       string          `json:"format,omitempty"`
	ChapterIndex *int            `json:"chapterIndex,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
}

// IngestChapterResponse reports the stored chapter.
type IngestChapterResponse struct {
	BookID   string  `json:"bookId"`
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Status   string  `json:"status"`
	Format   string  `json:"format"`
}

// IngestChapterEndpoint handles POST /api/audiobooks/chapters.
type IngestChapterEndpoint struct{}

func (e *IngestChapterEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/audiobooks/chapters", e.handler
}

func (e *IngestChapterEndpoint) RequiresInit() bool { return true }

// handler ingests one chapter of an audiobook.
//
//	@Summary		Ingest a chapter
//	@Description	Transcode and store one chapter of an audiobook, creating the book on first use
//	@Tags			audiobooks
//	@Accept			json
//	@Produce		json
//	@Param			X-Owner-ID	header		string					false	"Owner scope for the book"
//	@Param			request		body		IngestChapterRequest	true	"Chapter audio and metadata"
//	@Success		200			{object}	IngestChapterResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		499			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/audiobooks/chapters [post]
func (e *IngestChapterEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req IngestChapterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Buffer) == 0 {
		writeError(w, http.StatusBadRequest, "buffer is required")
		return
	}

	// An omitted format stays empty so the book's existing format wins.
	var format media.Format
	if req.Format != "" {
		var err error
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
	result, err := svc.IngestChapter(r.Context(), audiobook.IngestInput{
		BookID:   req.BookID,
		OwnerID:  r.Header.Get("X-Owner-ID"),
		Title:    req.ChapterTitle,
		Audio:    req.Buffer,
		Format:   format,
		Index:    req.ChapterIndex,
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

func (e *IngestChapterEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		bookID  string
		title   string
		format  string
		index   int
		inFile  string
		setting string
	)
	cmd := &cobra.Command{
		Use:   "ingest --file <audio-file> --title <chapter-title>",
		Short: "Ingest a chapter from an audio file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(inFile)
			if err != nil {
				return fmt.Errorf("failed to read audio file: %w", err)
			}

			req := IngestChapterRequest{
				ChapterTitle: title,
				Buffer:       data,
				BookID:       bookID,
				Format:       format,
			}
			if cmd.Flags().Changed("index") {
				req.ChapterIndex = &index
			}
			if setting != "" {
				req.Settings = json.RawMessage(setting)
			}

			client := api.NewClient(getServerURL())
			var resp IngestChapterResponse
			if err := client.Post(cmd.Context(), "/api/audiobooks/chapters", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&inFile, "file", "", "Audio file to ingest (required)")
	cmd.Flags().StringVar(&title, "title", "", "Chapter title (required)")
	cmd.Flags().StringVar(&bookID, "book", "", "Book ID (generated when omitted)")
	cmd.Flags().StringVar(&format, "format", "", "Target format: mp3 or m4b")
	cmd.Flags().IntVar(&index, "index", 0, "Explicit chapter index")
	cmd.Flags().StringVar(&setting, "settings", "", "Generation settings JSON")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("title")
	return cmd
}
