package platform

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	env := func(k string) string {
		if k == "USERPROFILE" {
			return `C:\Users\owner`
		}
		return ""
	}

	linux := Resolve("linux", "/home/owner", env)
	require.True(t, linux.Supported())
	require.Equal(t, filepath.Join("/home/owner", ".config", "google-chrome"), linux.ActivePath())
	require.Equal(t, linux.ActivePath()+".locked", linux.LockedPath())
	require.Equal(t, filepath.Join("/home/owner", StatusFileName), linux.StatusPath())

	mac := Resolve("darwin", "/Users/owner", env)
	require.True(t, mac.Supported())
	require.Equal(t, filepath.Join("/Users/owner", "Library", "Application Support", "Google", "Chrome"), mac.ActivePath())

	win := Resolve("windows", "", env)
	require.True(t, win.Supported())
	require.Contains(t, win.ActivePath(), "User Data")
}

func TestResolve_Inert(t *testing.T) {
	none := func(string) string { return "" }

	for _, p := range []Paths{
		Resolve("plan9", "/home/owner", none),
		Resolve("linux", "", none),
		Resolve("windows", "", none),
	} {
		require.False(t, p.Supported())
		require.Empty(t, p.ActivePath())
		require.Empty(t, p.LockedPath())
		require.Empty(t, p.StatusPath())
	}
}

func TestWithOverrides(t *testing.T) {
	base := Layout{Active: "/home/o/.config/google-chrome", Status: "/home/o/status.txt"}

	require.Equal(t, base, WithOverrides(base, "", ""))

	p := WithOverrides(base, "/tmp/profile", "")
	require.Equal(t, "/tmp/profile", p.ActivePath())
	require.Equal(t, "/tmp/profile.locked", p.LockedPath())
	require.Equal(t, "/home/o/status.txt", p.StatusPath())

	p = WithOverrides(Inert{}, "/tmp/profile", "")
	require.True(t, p.Supported())
	require.Equal(t, filepath.Join("/tmp", StatusFileName), p.StatusPath())

	p = WithOverrides(Inert{}, "", "/tmp/status.txt")
	require.False(t, p.Supported())
}

type fakeProc struct {
	name    string
	killed  bool
	killErr error
}

func (f *fakeProc) NameWithContext(context.Context) (string, error) { return f.name, nil }
func (f *fakeProc) KillWithContext(context.Context) error {
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = true
	return nil
}
func (f *fakeProc) IsRunningWithContext(context.Context) (bool, error) { return !f.killed, nil }

func TestProcessQuiescer(t *testing.T) {
	chrome := &fakeProc{name: "chrome"}
	helper := &fakeProc{name: "chrome"}
	editor := &fakeProc{name: "vim"}

	q := NewProcessQuiescer([]string{"chrome"}, zerolog.Nop())
	q.list = func(context.Context) ([]proc, error) { return []proc{chrome, editor, helper}, nil }

	require.NoError(t, q.Quiesce(context.Background()))
	require.True(t, chrome.killed)
	require.True(t, helper.killed)
	require.False(t, editor.killed)
}

func TestProcessQuiescer_KillError(t *testing.T) {
	stuck := &fakeProc{name: "chrome", killErr: errors.New("permission denied")}

	q := NewProcessQuiescer([]string{"chrome"}, zerolog.Nop())
	q.Grace = 10 * time.Millisecond
	q.list = func(context.Context) ([]proc, error) { return []proc{stuck}, nil }

	require.Error(t, q.Quiesce(context.Background()))
}

func TestProcessQuiescer_NoNames(t *testing.T) {
	q := NewProcessQuiescer(nil, zerolog.Nop())
	q.list = func(context.Context) ([]proc, error) {
		t.Fatal("process list should not be read without names")
		return nil, nil
	}
	require.NoError(t, q.Quiesce(context.Background()))
}

func TestDefaultProcessNames(t *testing.T) {
	require.Equal(t, []string{"chrome.exe"}, DefaultProcessNames("windows"))
	require.Contains(t, DefaultProcessNames("linux"), "chrome")
	require.Nil(t, DefaultProcessNames("plan9"))
}
