package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/internal/svcctx"
)

// ResetBookResponse is the body of DELETE /api/audiobooks/{book_id}.
type ResetBookResponse struct {
	Success bool `json:"success"`
	Existed bool `json:"existed"`
}

// ResetBookEndpoint handles DELETE /api/audiobooks/{book_id}.
type ResetBookEndpoint struct{}

func (e *ResetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/audiobooks/{book_id}", e.handler
}

func (e *ResetBookEndpoint) RequiresInit() bool { return true }

// handler deletes a book, its chapters, and any assembled artifact.
//
//	@Summary		Reset an audiobook
//	@Description	Delete the book record, every chapter, and the assembled artifact
//	@Tags			audiobooks
//	@Produce		json
//	@Param			X-Owner-ID	header		string	false	"Owner scope for the book"
//	@Param			book_id		path		string	true	"Book ID"
//	@Success		200			{object}	ResetBookResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/audiobooks/{book_id} [delete]
func (e *ResetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")

	svc := svcctx.GeneratorFrom(r.Context())
	existed, err := svc.Reset(r.Context(), bookID, r.Header.Get("X-Owner-ID"))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ResetBookResponse{Success: true, Existed: existed})
}

func (e *ResetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <book-id>",
		Short: "Delete a book and all of its chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ResetBookResponse
			if err := client.Delete(cmd.Context(), fmt.Sprintf("/api/audiobooks/%s", args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
