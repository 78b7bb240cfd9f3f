package api

import (
	"net/http"
	"testing"

	"github.com/spf13/cobra"
)

type stubEndpoint struct {
	method string
	path   string
	use    string
	init   bool
}

func (e *stubEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) {}
}

func (e *stubEndpoint) RequiresInit() bool { return e.init }

func (e *stubEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{Use: e.use}
}

func TestBuildCommands(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubEndpoint{method: "GET", path: "/health", use: "health"})
	r.Register(&stubEndpoint{method: "POST", path: "/api/things", use: "ingest", init: true})

	apiCmd := r.BuildCommands(func() string { return "http://localhost:8080" })
	if apiCmd.Use != "api" {
		t.Fatalf("BuildCommands() root use = %q, want api", apiCmd.Use)
	}

	for _, want := range []string{"health", "ingest"} {
		found := false
		for _, sub := range apiCmd.Commands() {
			if sub.Use == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("BuildCommands() missing subcommand %q", want)
		}
	}
}

func TestRegisterRoutesWrapsInitHandlers(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubEndpoint{method: "GET", path: "/open", use: "open"})
	r.Register(&stubEndpoint{method: "GET", path: "/gated", use: "gated", init: true})

	wrapped := 0
	mux := http.NewServeMux()
	r.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
		wrapped++
		return next
	})

	if wrapped != 1 {
		t.Errorf("init middleware applied to %d handlers, want 1", wrapped)
	}
}
