package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestSetupEmitsServiceFields(t *testing.T) {
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })
	var buf bytes.Buffer
	logger := Setup("walletd", "test", WithWriter(&buf))
	logger.Info("started", slog.String("network", "nile"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["service"] != "walletd" || entry["env"] != "test" {
		t.Fatalf("missing service fields: %v", entry)
	}
	if entry["message"] != "started" || entry["severity"] != "INFO" || entry["network"] != "nile" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", entry)
	}
}

func TestSetupMasksSensitiveAttributes(t *testing.T) {
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })
	var buf bytes.Buffer
	logger := Setup("walletd", "", WithWriter(&buf))
	logger.Info("derived",
		slog.String("mnemonic", "abandon abandon about"),
		slog.String("Private_Key", "b5a4cea2"),
		slog.String("passphrase", ""),
		slog.Int("index", 7))

	entry := decodeLines(t, &buf)[0]
	if entry["mnemonic"] != RedactedValue || entry["Private_Key"] != RedactedValue {
		t.Fatalf("expected secrets to be masked: %v", entry)
	}
	if entry["passphrase"] != "" {
		t.Fatalf("empty values stay empty: %v", entry)
	}
	if entry["index"] != float64(7) {
		t.Fatalf("unexpected index: %v", entry)
	}
	if _, ok := entry["env"]; ok {
		t.Fatalf("env should be omitted when blank: %v", entry)
	}
}

func TestSetupHonoursLevel(t *testing.T) {
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })
	var buf bytes.Buffer
	logger := Setup("walletd", "", WithWriter(&buf), WithLevel("warn"))
	logger.Info("hidden")
	logger.Warn("shown")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestWithFileWritesRotatingLog(t *testing.T) {
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })
	path := filepath.Join(t.TempDir(), "walletd.log")
	var buf bytes.Buffer
	logger := Setup("walletd", "", WithWriter(&buf), WithFile(path, 1, 1))
	logger.Info("persisted")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"message":"persisted"`)) {
		t.Fatalf("log file missing entry: %s", raw)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected stdout copy")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestSensitiveKeysSorted(t *testing.T) {
	keys := SensitiveKeys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
	if !IsSensitive(" MNEMONIC ") || IsSensitive("symbol") {
		t.Fatalf("unexpected sensitivity classification")
	}
}
