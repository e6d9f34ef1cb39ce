package config

import (
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadBudgets(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "zero max tokens",
			mutate: func(c *Config) { c.Memory.MaxTokens = 0 },
			want:   "max_tokens",
		},
		{
			name:   "negative overlap",
			mutate: func(c *Config) { c.Memory.Overlap = -1 },
			want:   "overlap",
		},
		{
			name:   "overlap swallows window",
			mutate: func(c *Config) { c.Memory.Overlap = 512 },
			want:   "overlap",
		},
		{
			name: "record overhead leaves no budget",
			mutate: func(c *Config) {
				c.Memory.MaxTokens = 50
				c.Memory.Overlap = 10
			},
			want: "record overhead",
		},
		{
			name:   "zero top k",
			mutate: func(c *Config) { c.Memory.TopK = 0 },
			want:   "top_k",
		},
		{
			name:   "zero media workers",
			mutate: func(c *Config) { c.Media.Workers = 0 },
			want:   "workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIDBUD_MAX_TOKENS", "256")
	t.Setenv("AIDBUD_TOP_K", "3")
	t.Setenv("AIDBUD_MODEL", "gpt-4o")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want 256", cfg.Memory.MaxTokens)
	}
	if cfg.Memory.TopK != 3 {
		t.Errorf("TopK = %d, want 3", cfg.Memory.TopK)
	}
	if cfg.Model.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", cfg.Model.Model)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("AIDBUD_MAX_TOKENS", "40")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for budget below record overhead")
	}
}
