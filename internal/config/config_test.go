package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Omero.GroupID != -1 {
		t.Errorf("GroupID: got %d, want -1", cfg.Omero.GroupID)
	}
	if cfg.Mail.SMTPPort != 25 {
		t.Errorf("SMTPPort: got %d, want 25", cfg.Mail.SMTPPort)
	}
	if cfg.Mail.Configured() {
		t.Error("default mail settings should not be configured")
	}
}

func TestLoad_Layers(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "MAIL_SENDER", "SMTP_SERVER", "OMERO_HOST", "OMERO_USER"} {
		t.Setenv(EnvPrefix+k, "")
		os.Unsetenv(EnvPrefix + k)
	}
	dir := t.TempDir()
	tomlPath := writeFile(t, dir, "image-tools.toml", `
log_level = "debug"

[mail]
sender = "toml@example.org"
smtp_server = "smtp.toml.example.org"

[omero]
host = "  omero.example.org  "
username = " alice "
port = 14064
`)
	prefsPath := writeFile(t, dir, "IJ_Prefs.txt", `
.imcf.sender_email=imcf@example.org
imcf.smtpserver = smtp.example.org
`)
	t.Setenv(EnvPrefix+"OMERO_USER", "bob")

	cfg, err := Load(tomlPath, prefsPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q", cfg.LogLevel)
	}
	if cfg.Mail.Sender != "imcf@example.org" {
		t.Errorf("prefs should override TOML sender, got %q", cfg.Mail.Sender)
	}
	if cfg.Mail.SMTPServer != "smtp.example.org" {
		t.Errorf("SMTPServer: got %q", cfg.Mail.SMTPServer)
	}
	if cfg.Omero.Host != "omero.example.org" {
		t.Errorf("Host not trimmed: %q", cfg.Omero.Host)
	}
	if cfg.Omero.Username != "bob" {
		t.Errorf("env should override TOML username, got %q", cfg.Omero.Username)
	}
	if cfg.Omero.Port != 14064 {
		t.Errorf("Port: got %d", cfg.Omero.Port)
	}
	if cfg.Omero.GroupID != -1 {
		t.Errorf("GroupID default lost: %d", cfg.Omero.GroupID)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.toml"), ""); err == nil {
		t.Error("Load should fail for a missing TOML file")
	}
	if _, err := Load("", filepath.Join(t.TempDir(), "none.txt")); err == nil {
		t.Error("Load should fail for a missing preferences file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvPrefix + "SMTP_PORT":    "587",
		EnvPrefix + "OMERO_GROUP":  "53",
		EnvPrefix + "OMERO_SECURE": "false",
		EnvPrefix + "IMARIS_PATHS": "/a/*/ImarisConvert" + string(os.PathListSeparator) + "/b/ImarisConvert",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv failed: %v", err)
	}
	if cfg.Mail.SMTPPort != 587 {
		t.Errorf("SMTPPort: got %d", cfg.Mail.SMTPPort)
	}
	if cfg.Omero.GroupID != 53 || cfg.Omero.Secure {
		t.Errorf("omero section: %+v", cfg.Omero)
	}
	if len(cfg.Imaris.SearchPaths) != 2 {
		t.Errorf("SearchPaths: got %v", cfg.Imaris.SearchPaths)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	lookup := func(k string) (string, bool) {
		switch k {
		case EnvPrefix + "SMTP_PORT":
			return "twenty-five", true
		case EnvPrefix + "OMERO_SECURE":
			return "maybe", true
		}
		return "", false
	}
	cfg := Default()
	if err := cfg.applyEnv(lookup); err == nil {
		t.Error("applyEnv should fail for non-numeric and non-boolean values")
	}
}
