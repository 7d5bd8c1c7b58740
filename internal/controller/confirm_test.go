package controller

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccepts(t *testing.T) {
	tests := map[string]bool{
		"":      true,
		"\n":    true,
		"Y":     true,
		"Y\r\n": true,
		" Y ":   true,
		"n":     false,
		"N":     false,
		"no":    false,
		"y":     false,
		"yes":   false,
	}
	for in, want := range tests {
		require.Equal(t, want, Accepts(in), "Accepts(%q)", in)
	}
}

func TestPromptConfirmer(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptConfirmer(strings.NewReader("\nn\nY\n"), &out)
	ctx := context.Background()

	ok, err := p.Confirm(ctx, "Ada")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, out.String(), "Welcome back Ada.")

	ok, err = p.Confirm(ctx, "Ada")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = p.Confirm(ctx, "Ada")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPromptConfirmer_EOF(t *testing.T) {
	p := NewPromptConfirmer(strings.NewReader(""), io.Discard)

	ok, err := p.Confirm(context.Background(), "Ada")
	require.Error(t, err)
	require.False(t, ok)

	// Last line without a trailing newline is still an answer
	p = NewPromptConfirmer(strings.NewReader("n"), io.Discard)
	ok, err = p.Confirm(context.Background(), "Ada")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPromptConfirmer_Cancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewPromptConfirmer(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ok, err := p.Confirm(ctx, "Ada")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, ok)
}

func TestPromptConfirmer_CancelledReadCarriesOver(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewPromptConfirmer(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	_, err := p.Confirm(ctx, "Ada")
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The line typed after the cancelled prompt answers the next one,
	// and the one after that is left for the third.
	go func() {
		w.Write([]byte("n\n"))
		w.Write([]byte("Y\n"))
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := p.Confirm(ctx, "Ada")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = p.Confirm(ctx, "Ada")
	require.NoError(t, err)
	require.True(t, ok)
}
