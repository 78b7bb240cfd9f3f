package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/svcctx"
)

// DownloadBookEndpoint handles GET /api/audiobooks/{book_id}/download.
type DownloadBookEndpoint struct{}

func (e *DownloadBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/audiobooks/{book_id}/download", e.handler
}

func (e *DownloadBookEndpoint) RequiresInit() bool { return true }

// handler assembles (or serves the cached copy of) the full audiobook.
//
//	@Summary		Download the full audiobook
//	@Description	Concatenate every stored chapter into one file, reusing the cached artifact when nothing changed
//	@Tags			audiobooks
//	@Produce		audio/mpeg
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			format	query		string	false	"Requested format: mp3 or m4b (stored chapters win)"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		499		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/audiobooks/{book_id}/download [get]
func (e *DownloadBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")

	var requested media.Format
	if q := r.URL.Query().Get("format"); q != "" {
		var err error
		requested, err = media.ParseFormat(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	svc := svcctx.GeneratorFrom(r.Context())
	data, format, err := svc.FullBook(r.Context(), bookID, requested)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audiobook."+format.Ext()))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (e *DownloadBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		format  string
		outFile string
	)
	cmd := &cobra.Command{
		Use:   "download <book-id>",
		Short: "Download the assembled audiobook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/audiobooks/%s/download", args[0])
			if format != "" {
				path += "?format=" + format
			}

			client := api.NewClient(getServerURL())
			data, contentType, err := client.GetRaw(cmd.Context(), path)
			if err != nil {
				return err
			}

			if outFile == "" {
				ext := "mp3"
				if contentType == "audio/mp4" {
					ext = "m4b"
				}
				outFile = "audiobook." + ext
			}
			if err := os.WriteFile(outFile, data, 0o644); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			fmt.Printf("Wrote %d bytes to %s\n", len(data), outFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Requested format: mp3 or m4b")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file path")
	return cmd
}
