package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/internal/svcctx"
)

// ChapterDownloadEndpoint handles GET /api/audiobooks/{book_id}/chapters/{index}/download.
type ChapterDownloadEndpoint struct{}

func (e *ChapterDownloadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/audiobooks/{book_id}/chapters/{index}/download", e.handler
}

func (e *ChapterDownloadEndpoint) RequiresInit() bool { return true }

// handler streams one chapter's audio.
//
//	@Summary		Download a chapter
//	@Description	Download the stored audio of one chapter
//	@Tags			audiobooks
//	@Produce		audio/mpeg
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			index	path		int		true	"Chapter index"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/audiobooks/{book_id}/chapters/{index}/download [get]
func (e *ChapterDownloadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}

	svc := svcctx.GeneratorFrom(r.Context())
	data, ch, err := svc.ChapterAudio(r.Context(), bookID, index)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", ch.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ch.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (e *ChapterDownloadEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "chapter-download <book-id> <index>",
		Short: "Download one chapter's audio",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/audiobooks/%s/chapters/%s/download", args[0], args[1])
			data, _, err := client.GetRaw(cmd.Context(), path)
			if err != nil {
				return err
			}

			if outFile == "" {
				outFile = fmt.Sprintf("chapter-%s.bin", args[1])
			}
			if err := os.WriteFile(outFile, data, 0o644); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			fmt.Printf("Wrote %d bytes to %s\n", len(data), outFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file path")
	return cmd
}
