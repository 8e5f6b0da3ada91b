package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nmodel: /srv/sd-turbo\nprovider: webgpu\nthreads: 4\nimages: 2\ncors_origins: [http://a, http://b]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Model != "/srv/sd-turbo" || cfg.Provider != "webgpu" || cfg.Threads != 4 || cfg.Images != 2 || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","model":"https://host/m","device":"npu","seed":42,"image_format":"bmp"}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Model != "https://host/m" || cfg.Device != "npu" || cfg.Seed != 42 || cfg.ImageFormat != "bmp" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nengine=\"synthetic\"\nparallel=2\ncache_dir=\"/x\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.Engine != "synthetic" || cfg.Parallel != 2 || cfg.CacheDir != "/x" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadEmptyYAML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "empty.yaml", "")
	if _, err := Load(p); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	d := t.TempDir()
	files := map[string]string{
		"u.yaml": "addr: :1\nvram_budget_mb: 10\n",
		"u.json": `{"addr":":1","vram_budget_mb":10}`,
		"u.toml": "addr=\":1\"\nvram_budget_mb=10\n",
	}
	for name, content := range files {
		_, err := Load(writeTempFile(t, d, name, content))
		if !IsConfigError(err) {
			t.Fatalf("%s: expected ConfigError, got %v", name, err)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); !IsConfigError(err) {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	_, err := Load("/definitely/not/a/real/file-12345.yaml")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
}

func TestLoadRejectsMalformedFiles(t *testing.T) {
	d := t.TempDir()
	cases := []struct{ name, content string }{
		{"type.yaml", "images: many\n"},
		{"type.json", `{"images":"many"}`},
		{"type.toml", "images=\"many\"\n"},
		{"syntax.yaml", "model: /srv\n: broken\n"},
		{"syntax.json", `{"model": }`},
		{"syntax.toml", "model=/srv\nthreads\n"},
	}
	for _, tc := range cases {
		_, err := Load(writeTempFile(t, d, tc.name, tc.content))
		if !IsConfigError(err) {
			t.Fatalf("%s: expected ConfigError, got %v", tc.name, err)
		}
	}
}
