package audiobook

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Settings is the generation-settings snapshot recorded with a book. It is
// used only for consistency checking across resumed sessions: every chapter
// of one audiobook must be synthesized with the same provider, voice, and
// speeds or the result is audibly inconsistent.
type Settings struct {
	Provider  string  `json:"provider,omitempty"`
	Model     string  `json:"model,omitempty"`
	Voice     string  `json:"voice,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	PostSpeed float64 `json:"postSpeed,omitempty"`
	Format    string  `json:"format,omitempty"`
}

// IsZero reports whether no setting field is populated.
func (s Settings) IsZero() bool {
	return s == Settings{}
}

// Diff returns the names of the fields on which s and other disagree.
func (s Settings) Diff(other Settings) []string {
	var fields []string
	if s.Provider != other.Provider {
		fields = append(fields, "provider")
	}
	if s.Model != other.Model {
		fields = append(fields, "model")
	}
	if s.Voice != other.Voice {
		fields = append(fields, "voice")
	}
	if s.Speed != other.Speed {
		fields = append(fields, "speed")
	}
	if s.PostSpeed != other.PostSpeed {
		fields = append(fields, "postSpeed")
	}
	if s.Format != other.Format {
		fields = append(fields, "format")
	}
	return fields
}

const settingsSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"provider":  {"type": "string"},
		"model":     {"type": "string"},
		"voice":     {"type": "string"},
		"speed":     {"type": "number", "minimum": 0.25, "maximum": 4.0},
		"postSpeed": {"type": "number", "minimum": 0.5,  "maximum": 3.0},
		"format":    {"type": "string", "enum": ["", "mp3", "m4b"]}
	},
	"additionalProperties": true
}`

var compiledSettingsSchema = jsonschema.MustCompileString("settings.json", settingsSchema)

// ParseSettings validates raw against the settings schema and decodes it.
// A nil/empty payload yields zero settings.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	if len(raw) == 0 {
		return Settings{}, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Settings{}, fmt.Errorf("settings are not valid JSON: %w", err)
	}
	if err := compiledSettingsSchema.Validate(doc); err != nil {
		return Settings{}, fmt.Errorf("settings are invalid: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}
