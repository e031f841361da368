package shell

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Mercury0/talon/internal/config"
	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/store/memory"
)

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"abc":         "***",
		"abcdef":      "******",
		"abcdefg":     "ab***fg",
		"supersecret": "su*******et",
	}
	for in, want := range cases {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "0123456789" {
		t.Errorf("shortID = %q, want %q", got, "0123456789")
	}
	if got := shortID("short"); got != "short" {
		t.Errorf("shortID = %q, want %q", got, "short")
	}
}

// scriptedShell runs the shell over a scripted input and returns the
// output, the config it mutated, and the store it served from.
func scriptedShell(t *testing.T, script string) (string, *config.Config, *memory.Store) {
	t.Helper()

	cfg := config.Default()
	st := memory.NewStore()
	var out bytes.Buffer

	sh := New(Deps{
		Config:     cfg,
		ConfigPath: filepath.Join(t.TempDir(), "config.yaml"),
		AlertStore: st,
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Input:      strings.NewReader(script),
		Output:     &out,
	})
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("shell run: %v", err)
	}
	return out.String(), cfg, st
}

func seedStore(t *testing.T, st *memory.Store, fullID, created string, severity int) {
	t.Helper()
	rec := domain.Alert{
		"id":                fullID,
		"name":              "Credential dumping attempt",
		"description":       "lsass memory access",
		"severity":          float64(severity),
		"status":            "new",
		"product":           "epp",
		"device":            map[string]any{"hostname": "web01"},
		"created_timestamp": created,
	}
	if _, err := st.Upsert(context.Background(), rec, domain.DisplayID(fullID), fullID); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
}

func TestShell_ProfileLifecycle(t *testing.T) {
	script := strings.Join([]string{
		"keys",
		"keys create",
		"client-abc",
		"secret-12345",
		"https://api.example.test",
		"keys list",
		"exit",
	}, "\n") + "\n"

	out, cfg, _ := scriptedShell(t, script)

	if !strings.Contains(out, "no profiles") {
		t.Errorf("expected empty-profile notice, got:\n%s", out)
	}
	if len(cfg.Profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(cfg.Profiles))
	}
	p := cfg.Profiles[0]
	if p.ClientID != "client-abc" || p.BaseURL != "https://api.example.test" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if cfg.ActiveProfile != p.ID {
		t.Errorf("first profile should become active")
	}
	if strings.Contains(out, "secret-12345") {
		t.Errorf("secret echoed unmasked:\n%s", out)
	}
	if !strings.Contains(out, maskSecret("client-abc")) {
		t.Errorf("expected masked client id in listing:\n%s", out)
	}
}

func TestShell_ConfigSet(t *testing.T) {
	script := strings.Join([]string{
		"config set interval 10s",
		"config set severity 50",
		"config set output jsonl",
		"config set output bogus",
		"exit",
	}, "\n") + "\n"

	out, cfg, _ := scriptedShell(t, script)

	if cfg.Watch.PollInterval.String() != "10s" {
		t.Errorf("interval = %s, want 10s", cfg.Watch.PollInterval)
	}
	if cfg.Filter.SeverityMin == nil || *cfg.Filter.SeverityMin != 50 {
		t.Errorf("severity_min not applied: %+v", cfg.Filter.SeverityMin)
	}
	if cfg.Watch.Output != "jsonl" {
		t.Errorf("output = %s, want jsonl", cfg.Watch.Output)
	}
	if !strings.Contains(out, "output must be console, jsonl or csv") {
		t.Errorf("invalid output value not rejected:\n%s", out)
	}
}

func TestShell_RecentAndDetail(t *testing.T) {
	cfg := config.Default()
	st := memory.NewStore()
	seedStore(t, st, "cid:ind:aaa", "2026-02-01T10:00:00Z", 70)
	seedStore(t, st, "cid:ind:bbb", "2026-02-02T10:00:00Z", 30)

	var out bytes.Buffer
	sh := New(Deps{
		Config:     cfg,
		AlertStore: st,
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Input:      strings.NewReader("recent\ndetail ind:aaa\ndetail ind:missing\nexit\n"),
		Output:     &out,
	})
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("shell run: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "2 alert(s)") {
		t.Errorf("recent listing missing:\n%s", text)
	}
	// Newest first.
	if strings.Index(text, "ind:bbb") > strings.Index(text, "ind:aaa") {
		t.Errorf("recent not ordered newest-first:\n%s", text)
	}
	if !strings.Contains(text, `"cid:ind:aaa"`) {
		t.Errorf("detail did not render the full record:\n%s", text)
	}
	if !strings.Contains(text, "ind:missing is not cached") {
		t.Errorf("missing detail should explain itself:\n%s", text)
	}
}

func TestShell_PurgeNeedsConfirmation(t *testing.T) {
	cfg := config.Default()
	st := memory.NewStore()
	seedStore(t, st, "cid:ind:aaa", "2026-02-01T10:00:00Z", 70)

	var out bytes.Buffer
	sh := New(Deps{
		Config:     cfg,
		AlertStore: st,
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Input:      strings.NewReader("purge\nn\npurge\ny\nexit\n"),
		Output:     &out,
	})
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("shell run: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "purge cancelled") {
		t.Errorf("declined purge should cancel:\n%s", text)
	}
	if !strings.Contains(text, "deleted 1 alert(s)") {
		t.Errorf("confirmed purge should delete:\n%s", text)
	}

	rows, err := st.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list after purge: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("store not emptied, %d rows remain", len(rows))
	}
}

func TestShell_Export(t *testing.T) {
	prevWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(prevWD) })

	cfg := config.Default()
	st := memory.NewStore()
	seedStore(t, st, "cid:ind:aaa", "2026-02-01T10:00:00Z", 70)

	var out bytes.Buffer
	sh := New(Deps{
		Config:     cfg,
		AlertStore: st,
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Input:      strings.NewReader("export json\nexport csv\nexport yaml\nexit\n"),
		Output:     &out,
	})
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("shell run: %v", err)
	}

	for _, name := range []string{"db.json", "db.csv"} {
		if _, err := os.Stat(name); err != nil {
			t.Errorf("export artifact %s missing: %v", name, err)
		}
	}
	if !strings.Contains(out.String(), "usage: export csv|json") {
		t.Errorf("unknown format should print usage:\n%s", out.String())
	}
}

func TestShell_ConnectWithoutProfile(t *testing.T) {
	out, _, _ := scriptedShell(t, "connect\nexit\n")
	if !strings.Contains(out, "no active profile") {
		t.Errorf("connect without profile should point at keys create:\n%s", out)
	}
}
