package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompter is how a wallet asks its human for consent.
type Prompter interface {
	Confirm(ctx context.Context, message string) (bool, error)
	Passphrase(ctx context.Context, message string) (string, error)
}

// TerminalPrompter asks on a terminal. Answers are awaited without a deadline.
// Prompts run one at a time and a single goroutine owns In, so an answer
// typed after its prompt was cancelled goes to the next prompt.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	mu       sync.Mutex
	once     sync.Once
	requests chan readRequest
	results  chan readResult
	pending  bool
	closed   bool
}

type readRequest struct {
	secret bool
}

type readResult struct {
	secret bool
	line   string
	err    error
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.Out, "%s [y/N]: ", message)
	line, err := p.read(ctx, false)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Passphrase reads without echo when In is a terminal.
func (p *TerminalPrompter) Passphrase(ctx context.Context, message string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.Out, "%s: ", message)
	secret := term.IsTerminal(int(p.In.Fd()))
	line, err := p.read(ctx, secret)
	if secret && err == nil {
		fmt.Fprintln(p.Out)
	}
	return strings.TrimRight(line, "\r\n"), err
}

// read must be called with p.mu held. At most one read is outstanding; a
// cancelled prompt leaves it pending for the next caller.
func (p *TerminalPrompter) read(ctx context.Context, secret bool) (string, error) {
	p.once.Do(p.startReader)
	for {
		if p.closed {
			return "", io.EOF
		}
		if !p.pending {
			p.requests <- readRequest{secret: secret}
			p.pending = true
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res, ok := <-p.results:
			p.pending = false
			if !ok {
				p.closed = true
				continue
			}
			// An echoed answer never feeds a passphrase, nor a hidden one a
			// confirmation.
			if res.err == nil && res.secret != secret {
				continue
			}
			return res.line, res.err
		}
	}
}

func (p *TerminalPrompter) startReader() {
	p.requests = make(chan readRequest, 1)
	p.results = make(chan readResult, 1)
	in := bufio.NewReader(p.In)
	fd := int(p.In.Fd())

	go func() {
		defer close(p.results)
		for req := range p.requests {
			res := readResult{secret: req.secret}
			if req.secret {
				b, err := term.ReadPassword(fd)
				res.line, res.err = string(b), err
			} else {
				res.line, res.err = in.ReadString('\n')
				if res.err == io.EOF && res.line != "" {
					res.err = nil
				}
			}
			p.results <- res
			if res.err != nil {
				return
			}
		}
	}()
}
