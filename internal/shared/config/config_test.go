package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIni_ReadsSections(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "keyprobe.ini")
	content := `
[common]
results_file = results.json

[web]
web_port = 8088
web_user = admin
web_password = secret

[log]
level = debug
`
	if err := os.WriteFile(iniPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := LoadIni(cfg, iniPath); err != nil {
		t.Fatalf("LoadIni() error = %v", err)
	}
	if cfg.WebPort != 8088 || cfg.WebUser != "admin" || cfg.WebPassword != "secret" {
		t.Errorf("unexpected web conf: %+v", cfg.WebConf)
	}
	if cfg.Level != "debug" {
		t.Errorf("expected level 'debug', got '%s'", cfg.Level)
	}
	if got := ResultsPath(cfg); got != filepath.Join(dir, "results.json") {
		t.Errorf("ResultsPath() = %s", got)
	}
	if got := SettingsPath(cfg); got != filepath.Join(dir, "settings.json") {
		t.Errorf("SettingsPath() = %s", got)
	}
}

func TestLoadIni_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	if err := LoadIni(cfg, filepath.Join(dir, "absent.ini")); err != nil {
		t.Fatalf("LoadIni() error = %v", err)
	}
	if cfg.ResultsFile != defaultResultsFile {
		t.Errorf("expected default results file, got '%s'", cfg.ResultsFile)
	}
	if cfg.DataDir != dir {
		t.Errorf("expected data dir '%s', got '%s'", dir, cfg.DataDir)
	}
}

func TestLoadIni_EnvOverride(t *testing.T) {
	t.Setenv("KEYPROBE_WEB_PORT", "9191")
	t.Setenv("KEYPROBE_LOG_LEVEL", "warn")

	cfg := Default()
	if err := LoadIni(cfg, filepath.Join(t.TempDir(), "absent.ini")); err != nil {
		t.Fatal(err)
	}
	if cfg.WebPort != 9191 {
		t.Errorf("expected web port 9191, got %d", cfg.WebPort)
	}
	if cfg.Level != "warn" {
		t.Errorf("expected level 'warn', got '%s'", cfg.Level)
	}
}
