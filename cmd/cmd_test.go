package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/platform"
	"github.com/andresmejia3/visage/internal/status"
	"github.com/andresmejia3/visage/internal/store"
	"github.com/andresmejia3/visage/internal/vault"
	"github.com/andresmejia3/visage/internal/verify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func TestFmtAgo(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3661 * time.Second, "01:01:01"},
		{26 * time.Hour, "1d 02:00:00"},
		{-time.Second, "00:00:00"},
	}

	for _, tt := range tests {
		if got := fmtAgo(tt.d); got != tt.want {
			t.Errorf("fmtAgo(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestParsePositiveDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"5s", 5 * time.Second, false},
		{" 500ms ", 500 * time.Millisecond, false},
		{"0s", 0, true},
		{"-1s", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		got, err := parsePositiveDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePositiveDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parsePositiveDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		res  verify.Result
		want string
	}{
		{"match", verify.Result{Outcome: verify.OutcomeMatch, MinDistance: 0.5}, "distance 0.5000 < 0.80"},
		{"no match", verify.Result{Outcome: verify.OutcomeNoMatch, MinDistance: 0.9}, "distance 0.9000 >= 0.80"},
		{"no face", verify.Result{Outcome: verify.OutcomeNoFace, MinDistance: math.NaN()}, "No face detected"},
		{"no reference", verify.Result{Outcome: verify.OutcomeNoReference, MinDistance: math.NaN()}, "No reference embeddings"},
		{"failure", verify.Result{Outcome: verify.OutcomeFailure, MinDistance: math.NaN(), Err: errors.New("x")}, verify.OutcomeFailure.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatResult(tt.res, 0.8); !strings.Contains(got, tt.want) {
				t.Errorf("formatResult() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestStatusDrift(t *testing.T) {
	tests := []struct {
		recorded status.LockStatus
		disk     vault.State
		want     string
	}{
		{status.Locked, vault.StateLocked, ""},
		{status.Unlocked, vault.StateUnlocked, ""},
		{status.Locked, vault.StateUnlocked, "says locked"},
		{status.Unlocked, vault.StateLocked, "says unlocked"},
		{status.Unlocked, vault.StateConflicted, "unlock will discard the profile"},
		{status.Locked, vault.StateAbsent, "Neither"},
		{status.Unlocked, vault.StateInert, ""},
	}

	for _, tt := range tests {
		got := statusDrift(tt.recorded, tt.disk)
		if tt.want == "" && got != "" {
			t.Errorf("statusDrift(%s, %s) = %q, want no drift", tt.recorded, tt.disk, got)
		}
		if tt.want != "" && !strings.Contains(got, tt.want) {
			t.Errorf("statusDrift(%s, %s) = %q, want it to contain %q", tt.recorded, tt.disk, got, tt.want)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, statusReport{
		Recorded:   status.Locked,
		OnDisk:     vault.StateUnlocked,
		StatusPath: "/home/ada/chrome_data_status.txt",
		Images:     240,
		Embeddings: -1,
	})

	out := buf.String()
	for _, want := range []string{"RECORDED", "locked", "not enrolled", "240", "⚠️"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestPrintEvents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := uuid.MustParse("0b9c6f1e-8a56-4d4e-9a0a-1f2e3d4c5b6a")

	var buf bytes.Buffer
	printEvents(&buf, []store.Event{
		{ID: 2, Session: session, From: "locked", To: "unlocked", Reason: "owner confirmed", CreatedAt: now.Add(-90 * time.Second)},
		{ID: 1, Session: session, From: "unlocked", To: "locked", Reason: "owner absent", CreatedAt: now.Add(-time.Hour)},
	}, now)

	out := buf.String()
	for _, want := range []string{"REASON", "owner confirmed", "00:01:30", "01:00:00", "0b9c6f1e"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}

	buf.Reset()
	printEvents(&buf, nil, now)
	if !strings.Contains(buf.String(), "No lock events") {
		t.Errorf("Expected empty message, got %q", buf.String())
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"\n", false},
		{"n\n", false},
		{"y", true},
		{"", false},
	}

	// Silence the prompt
	oldStdout := os.Stdout
	devNull, _ := os.Open(os.DevNull)
	os.Stdout = devNull
	defer func() {
		os.Stdout = oldStdout
		devNull.Close()
	}()

	for _, tt := range tests {
		if got := confirm(bufio.NewReader(strings.NewReader(tt.input)), "?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestApplyWatchFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, cfg config.Config)
	}{
		{
			name: "No flags keeps config",
			args: nil,
			check: func(t *testing.T, cfg config.Config) {
				if cfg.Controller.Interval != 5*time.Second || cfg.Controller.MissLimit != 5 {
					t.Errorf("Expected defaults, got %+v", cfg.Controller)
				}
			},
		},
		{
			name: "Flags override config",
			args: []string{"--interval", "2s", "--miss-limit", "3"},
			check: func(t *testing.T, cfg config.Config) {
				if cfg.Controller.Interval != 2*time.Second || cfg.Controller.MissLimit != 3 {
					t.Errorf("Expected overrides, got %+v", cfg.Controller)
				}
			},
		},
		{name: "Invalid interval", args: []string{"--interval", "0s"}, wantErr: true},
		{name: "Invalid miss limit", args: []string{"--miss-limit", "0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Cfg = config.Default()
			cmd := &cobra.Command{Use: "watch"}
			cmd.Flags().StringVarP(&watchInterval, "interval", "i", "", "")
			cmd.Flags().IntVarP(&watchMissLimit, "miss-limit", "m", 0, "")
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags failed: %v", err)
			}

			err := applyWatchFlags(cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("applyWatchFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, Cfg)
			}
		})
	}
}

func TestStatusPathFallback(t *testing.T) {
	cfg := config.Default()
	cfg.System.DataDir = "/var/lib/visage"

	if got := statusPath(cfg, platform.Inert{}); got != filepath.Join("/var/lib/visage", platform.StatusFileName) {
		t.Errorf("Expected status file under data dir, got %q", got)
	}
	layout := platform.Layout{Active: "/p", Status: "/home/ada/status.txt"}
	if got := statusPath(cfg, layout); got != "/home/ada/status.txt" {
		t.Errorf("Expected layout status path, got %q", got)
	}
}

func TestFileCapturer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.jpg")
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := fileCapturer(path).Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if len(data) != 4 {
		t.Errorf("Expected 4 bytes, got %d", len(data))
	}
}

func TestJournalNilWithoutDatabase(t *testing.T) {
	DB = nil
	if journal() != nil {
		t.Error("Expected a nil journal interface without a database")
	}
}

func TestRunMove_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "google-chrome")
	if err := os.MkdirAll(active, 0o755); err != nil {
		t.Fatal(err)
	}

	DB = nil
	Log = zerolog.Nop()
	Cfg = config.Default()
	Cfg.Resource.ActivePath = active
	Cfg.Resource.StatusFile = filepath.Join(dir, "status.txt")
	Cfg.Resource.Processes = []string{"visage-test-no-such-process"}

	// Silence the success line
	oldStdout := os.Stdout
	devNull, _ := os.Open(os.DevNull)
	os.Stdout = devNull
	defer func() {
		os.Stdout = oldStdout
		devNull.Close()
	}()

	ctx := context.Background()
	if err := runMove(ctx, status.Locked); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if _, err := os.Stat(active + platform.LockedSuffix); err != nil {
		t.Errorf("Expected locked directory: %v", err)
	}
	st, err := status.New(Cfg.Resource.StatusFile).Read()
	if err != nil || st != status.Locked {
		t.Errorf("Expected status locked, got %v (%v)", st, err)
	}

	if err := runMove(ctx, status.Unlocked); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, err := os.Stat(active); err != nil {
		t.Errorf("Expected active directory back: %v", err)
	}
}
