package endpoints

import (
	"github.com/openreader/audiobookd/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Audiobook endpoints
		&IngestChapterEndpoint{},
		&RegenerateChapterEndpoint{},
		&ListChaptersEndpoint{},
		&ChapterDownloadEndpoint{},
		&DownloadBookEndpoint{},
		&ResetBookEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}
