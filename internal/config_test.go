package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	if cfg.Content.Root != "./content" || cfg.SQLite.Path != "./infrawiki.db" {
		t.Errorf("defaults = %q, %q", cfg.Content.Root, cfg.SQLite.Path)
	}
}

func TestApplicationConfig_LogFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.LogFormat = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty format should default to json: %v", err)
	}
	if cfg.App.LogFormat != LogFormatJSON {
		t.Errorf("format = %q, want %q", cfg.App.LogFormat, LogFormatJSON)
	}

	cfg.App.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown log format should fail")
	}
}

func TestFullConfig_SectionErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		prefix string
	}{
		{"port", func(c *Config) { c.App.HTTP.Port = 0 }, "app:"},
		{"burst", func(c *Config) { c.App.HTTP.RateLimit.Burst = 0 }, "app:"},
		{"root", func(c *Config) { c.Content.Root = "" }, "content:"},
		{"sqlite", func(c *Config) { c.SQLite.Path = "" }, "sqlite:"},
		{"lock timeout", func(c *Config) { c.Locks.Timeout = 0 }, "locks:"},
		{"attachment size", func(c *Config) { c.Limits.MaxAttachmentBytes = 0 }, "limits:"},
		{"attachment count", func(c *Config) { c.Limits.MaxAttachments = -1 }, "limits:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), tc.prefix) {
				t.Errorf("error = %v, want prefix %q", err, tc.prefix)
			}
		})
	}
}

func TestRateLimitConfig_DisabledAllowsZeroBurst(t *testing.T) {
	cfg := RateLimitConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled limiter should pass: %v", err)
	}
}
