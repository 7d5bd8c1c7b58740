package controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Accepts reports whether a prompt answer confirms. Only "Y" or an empty line do.
func Accepts(answer string) bool {
	answer = strings.TrimSpace(answer)
	return answer == "" || answer == "Y"
}

// PromptConfirmer asks on a terminal.
type PromptConfirmer struct {
	in  *bufio.Reader
	out io.Writer

	// pending holds a read left running by a cancelled prompt; the next
	// prompt takes its line instead of starting a second reader.
	pending chan answer
}

// NewPromptConfirmer reads answers from in and writes prompts to out.
func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

type answer struct {
	line string
	err  error
}

// Confirm prints the welcome prompt and waits for one line.
func (p *PromptConfirmer) Confirm(ctx context.Context, owner string) (bool, error) {
	if owner == "" {
		owner = "owner"
	}
	fmt.Fprintf(p.out, "Welcome back %s. Do you want to unlock the browser profile? (Y)/n ", owner)

	ch := p.pending
	p.pending = nil
	if ch == nil {
		ch = make(chan answer, 1)
		go func() {
			line, err := p.in.ReadString('\n')
			ch <- answer{line: line, err: err}
		}()
	}

	select {
	case <-ctx.Done():
		p.pending = ch
		return false, ctx.Err()
	case a := <-ch:
		// A final line without a newline still counts.
		if a.err != nil && !(a.err == io.EOF && a.line != "") {
			return false, fmt.Errorf("read confirmation: %w", a.err)
		}
		return Accepts(a.line), nil
	}
}
