// Package platform resolves where the protected browser profile lives and how
// to stop the processes that hold it open.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// LockedSuffix is appended to the active path to form the locked path.
	LockedSuffix = ".locked"
	// StatusFileName is the default status file, kept in the user's home.
	StatusFileName = "chrome_data_status.txt"
)

// Paths locates the protected resource. It is resolved once at startup.
type Paths interface {
	ActivePath() string
	LockedPath() string
	StatusPath() string
	// Supported is false for the inert strategy.
	Supported() bool
}

// Layout is a resolved set of paths.
type Layout struct {
	Active string
	Status string
}

func (l Layout) ActivePath() string { return l.Active }
func (l Layout) LockedPath() string { return l.Active + LockedSuffix }
func (l Layout) StatusPath() string { return l.Status }
func (l Layout) Supported() bool    { return true }

// Inert is returned for platforms we cannot resolve. Every path is empty.
type Inert struct{}

func (Inert) ActivePath() string { return "" }
func (Inert) LockedPath() string { return "" }
func (Inert) StatusPath() string { return "" }
func (Inert) Supported() bool    { return false }

// Resolve returns the Chrome profile layout for goos.
func Resolve(goos, home string, getenv func(string) string) Paths {
	switch goos {
	case "windows":
		profile := getenv("USERPROFILE")
		if profile == "" {
			return Inert{}
		}
		return Layout{
			Active: filepath.Join(profile, "AppData", "Local", "Google", "Chrome", "User Data"),
			Status: filepath.Join(profile, StatusFileName),
		}
	case "darwin":
		if home == "" {
			return Inert{}
		}
		return Layout{
			Active: filepath.Join(home, "Library", "Application Support", "Google", "Chrome"),
			Status: filepath.Join(home, StatusFileName),
		}
	case "linux":
		if home == "" {
			return Inert{}
		}
		return Layout{
			Active: filepath.Join(home, ".config", "google-chrome"),
			Status: filepath.Join(home, StatusFileName),
		}
	default:
		return Inert{}
	}
}

// ResolveCurrent resolves paths for the running OS and user.
func ResolveCurrent() Paths {
	home, _ := os.UserHomeDir()
	return Resolve(runtime.GOOS, home, os.Getenv)
}

// WithOverrides replaces the resolved paths with configured ones. An explicit
// active path makes the layout usable even on an otherwise inert platform.
func WithOverrides(p Paths, active, status string) Paths {
	if active == "" && status == "" {
		return p
	}
	if active == "" {
		if !p.Supported() {
			return p
		}
		active = p.ActivePath()
	}
	if status == "" {
		status = p.StatusPath()
	}
	if status == "" {
		status = filepath.Join(filepath.Dir(active), StatusFileName)
	}
	return Layout{Active: active, Status: status}
}
