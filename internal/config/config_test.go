package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	yamlContent := `
transport:
  paths: 4
  chunk_size: 512
  handshake_timeout: 2s
buffer:
  duplicate_policy: replace
log:
  level: debug
metrics:
  listen: "127.0.0.1:9100"
`
	cfg, err := Load(createTempFile(t, "reorder.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Transport.Paths != 4 {
		t.Errorf("Transport.Paths = %v, want 4", cfg.Transport.Paths)
	}
	if cfg.Transport.ChunkSize != 512 {
		t.Errorf("Transport.ChunkSize = %v, want 512", cfg.Transport.ChunkSize)
	}
	if cfg.Transport.HandshakeTimeout != 2*time.Second {
		t.Errorf("Transport.HandshakeTimeout = %v, want 2s", cfg.Transport.HandshakeTimeout)
	}
	if cfg.Transport.MaxPacketSize != DefaultMaxPacketSize {
		t.Errorf("Transport.MaxPacketSize = %v, want default %v", cfg.Transport.MaxPacketSize, DefaultMaxPacketSize)
	}
	if cfg.Buffer.DuplicatePolicy != "replace" {
		t.Errorf("Buffer.DuplicatePolicy = %v, want replace", cfg.Buffer.DuplicatePolicy)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9100" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"too many paths", "transport:\n  paths: 100\n"},
		{"negative chunk", "transport:\n  chunk_size: -1\n"},
		{"packet smaller than chunk", "transport:\n  chunk_size: 4096\n  max_packet_size: 1024\n"},
		{"unknown policy", "buffer:\n  duplicate_policy: merge\n"},
		{"allow policy", "buffer:\n  duplicate_policy: allow\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	cfg := Default()
	cfg.Transport.Paths = 3
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Transport.Paths != 3 || got.Transport.ALPN != DefaultALPN {
		t.Errorf("reloaded transport = %+v", got.Transport)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REORDER_PATHS", "5")
	t.Setenv("REORDER_LOG_LEVEL", "warn")

	cfg := Default()
	if err := cfg.ApplyEnv(""); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Transport.Paths != 5 {
		t.Errorf("Transport.Paths = %v, want 5", cfg.Transport.Paths)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %v, want warn", cfg.Log.Level)
	}

	t.Setenv("REORDER_CHUNK_SIZE", "abc")
	if err := cfg.ApplyEnv("REORDER"); err == nil {
		t.Error("expected error for non-numeric chunk size")
	}
}

func TestQUICConfig(t *testing.T) {
	cfg := Default()
	qc := cfg.QUICConfig()
	if qc.KeepAlivePeriod != DefaultKeepAlive || qc.MaxIdleTimeout != DefaultMaxIdleTimeout {
		t.Errorf("quic config = %+v", qc)
	}
}
