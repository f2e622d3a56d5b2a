package main

import (
	"io"
	"strings"
	"testing"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.mode != "live" {
		t.Fatalf("mode = %q", cfg.mode)
	}
	if !strings.HasPrefix(cfg.relayURL, "ws://") {
		t.Fatalf("relayURL = %q", cfg.relayURL)
	}
}

func TestParseFlagsRejectsUnknownMode(t *testing.T) {
	if _, err := parseFlags([]string{"-mode", "stream"}, io.Discard); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestParseFlagsBatchRequiresURL(t *testing.T) {
	if _, err := parseFlags([]string{"-mode", "batch"}, io.Discard); err == nil {
		t.Fatal("expected error for batch mode without batch url")
	}
	cfg, err := parseFlags([]string{"-mode", "batch", "-batch-url", "http://localhost:9000"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.batchURL != "http://localhost:9000" {
		t.Fatalf("batchURL = %q", cfg.batchURL)
	}
}
