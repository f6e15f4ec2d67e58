package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	c := Default()
	c.Backend.Name = "ollama"
	c.Backend.Model = "llava:13b"
	c.Options.FontScale = 1.25
	c.Options.SelectedOptions = map[string]string{"lang": "jpn"}

	if err := c.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Backend.Name != "ollama" || loaded.Backend.Model != "llava:13b" {
		t.Errorf("backend not round-tripped: %+v", loaded.Backend)
	}
	if loaded.Options.FontScale != 1.25 {
		t.Errorf("font scale not round-tripped: %v", loaded.Options.FontScale)
	}
	if loaded.Options.SelectedOptions["lang"] != "jpn" {
		t.Errorf("selected options not round-tripped: %+v", loaded.Options.SelectedOptions)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"backend": {"name": "tesseract"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if c.Backend.Name != "tesseract" {
		t.Errorf("backend.name = %q, want tesseract", c.Backend.Name)
	}
	if c.Encoding.Quality != 85 {
		t.Errorf("unset fields must keep defaults, quality = %d", c.Encoding.Quality)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file must error")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("malformed file must error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad quality", func(c *Config) { c.Encoding.Quality = 0 }},
		{"negative send size", func(c *Config) { c.Encoding.MaxSendSize = -1 }},
		{"bad format", func(c *Config) { c.Encoding.Format = "gif" }},
		{"bad backend", func(c *Config) { c.Backend.Name = "carrier-pigeon" }},
		{"bad font scale", func(c *Config) { c.Options.FontScale = 0 }},
		{"bad line width", func(c *Config) { c.Options.LineWidth = 0 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
