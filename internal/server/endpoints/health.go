package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/api"
	"github.com/openreader/audiobookd/internal/audiobook"
	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/svcctx"
)

// StatusClientClosedRequest is the non-standard status nginx popularized for
// a client that went away before the response was ready. Cancelled
// generation work maps here so it is distinguishable from a real failure.
const StatusClientClosedRequest = 499

// ErrorResponse is the JSON error body every endpoint returns on failure.
type ErrorResponse struct {
	Error string `json:"error"`
	// StoredSettings is present on a settings-mismatch conflict so the
	// caller can show what the book was started with.
	StoredSettings *audiobook.Settings `json:"storedSettings,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	FFmpeg string `json:"ffmpeg,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", FFmpeg: "ok"}

	if svcctx.GeneratorFrom(r.Context()) == nil {
		resp.Status = "degraded"
		resp.FFmpeg = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if err := media.CheckAvailable(); err != nil {
		resp.Status = "degraded"
		resp.FFmpeg = "missing"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes ffmpeg)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			if resp.FFmpeg != "" {
				fmt.Printf("FFmpeg: %s\n", resp.FFmpeg)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server  string        `json:"server"`
	FFmpeg  string        `json:"ffmpeg"`
	Storage StorageStatus `json:"storage"`
}

// StorageStatus names the configured storage backends.
type StorageStatus struct {
	Objects string `json:"objects"`
	Records string `json:"records"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Server: "running"}

	if err := media.CheckAvailable(); err != nil {
		resp.FFmpeg = "missing"
	} else {
		resp.FFmpeg = "available"
	}

	if mgr := svcctx.ConfigMgrFrom(r.Context()); mgr != nil {
		cfg := mgr.Get()
		resp.Storage.Objects = cfg.Storage.Objects
		resp.Storage.Records = cfg.Storage.Records
	} else {
		resp.Storage.Objects = "not_initialized"
		resp.Storage.Records = "not_initialized"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			fmt.Printf("Server: %s\n", resp.Server)
			fmt.Printf("FFmpeg: %s\n", resp.FFmpeg)
			fmt.Printf("Storage:\n")
			fmt.Printf("  Objects: %s\n", resp.Storage.Objects)
			fmt.Printf("  Records: %s\n", resp.Storage.Records)
			return nil
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writePipelineError maps the pipeline error taxonomy to HTTP statuses. The
// client gets a structured message; stderr detail from the transcoder stays
// in the server logs.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var mismatch *audiobook.SettingsMismatchError
	var transcode *media.TranscodeError

	switch {
	case audiobook.IsCancelled(err):
		writeError(w, StatusClientClosedRequest, "cancelled")
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:          mismatch.Error(),
			StoredSettings: &mismatch.Stored,
		})
	case errors.Is(err, audiobook.ErrFormatConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, audiobook.ErrMixedFormats):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, audiobook.ErrInvalidBookID), errors.Is(err, audiobook.ErrInvalidIndex):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, audiobook.ErrBookNotFound), errors.Is(err, audiobook.ErrChapterNotFound),
		errors.Is(err, audiobook.ErrNoChapters):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &transcode):
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Error("transcode failed", "op", transcode.Op, "error", transcode.Err, "stderr", transcode.Stderr)
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("transcode failed during %s", transcode.Op))
	default:
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Error("request failed", "path", r.URL.Path, "error", err)
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
