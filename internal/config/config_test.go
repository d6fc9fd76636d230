package config

import (
	"reflect"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		RPCURL:         DefaultRPCURL,
		Accounts:       []string{"0x1111111111111111111111111111111111111111"},
		PollIntervalMs: DefaultPollIntervalMs,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty rpc url", func(c *Config) { c.RPCURL = "" }, true},
		{"no accounts", func(c *Config) { c.Accounts = nil }, true},
		{"zero poll interval", func(c *Config) { c.PollIntervalMs = 0 }, true},
		{"negative poll interval", func(c *Config) { c.PollIntervalMs = -5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected an error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestPollInterval(t *testing.T) {
	cfg := validConfig()
	cfg.PollIntervalMs = 2500
	if got := cfg.PollInterval(); got != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %v", got)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ", []string{"a", "b"}},
		{"a,,b", []string{"a", "b"}},
		{"solo", []string{"solo"}},
		{"", []string{}},
		{" , ", []string{}},
	}

	for _, tt := range tests {
		if got := splitList(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
