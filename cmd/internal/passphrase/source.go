// Package passphrase resolves keystore passphrases for the node and CLI.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var ErrMismatch = errors.New("passphrases do not match")

// Prompter reads a secret line without echo.
type Prompter interface {
	IsTerminal() bool
	ReadSecret(prompt string) (string, error)
}

type stdinPrompter struct{ out io.Writer }

func (p stdinPrompter) IsTerminal() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

func (p stdinPrompter) ReadSecret(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(p.out)
	return string(raw), err
}

// Source resolves a passphrase once, from an environment variable or an
// interactive prompt, and caches the result.
type Source struct {
	envVar   string
	label    string
	confirm  bool
	prompter Prompter

	once  sync.Once
	value string
	err   error
}

type Option func(*Source)

// WithConfirm asks twice when prompting, for passphrases that create a key.
func WithConfirm() Option { return func(s *Source) { s.confirm = true } }

// WithPrompter replaces the terminal prompt.
func WithPrompter(p Prompter) Option { return func(s *Source) { s.prompter = p } }

// NewSource checks envVar before prompting. label names the keystore in
// prompts and errors.
func NewSource(envVar, label string, opts ...Option) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	s := &Source{
		envVar:   strings.TrimSpace(envVar),
		label:    label,
		prompter: stdinPrompter{out: os.Stderr},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase, resolving it on first use. Blank passphrases
// are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.prompter.IsTerminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}
	value, err := s.prompter.ReadSecret(fmt.Sprintf("Enter %s passphrase: ", s.label))
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s passphrase cannot be empty", s.label)
	}
	if s.confirm {
		again, err := s.prompter.ReadSecret(fmt.Sprintf("Repeat %s passphrase: ", s.label))
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		if again != value {
			return "", ErrMismatch
		}
	}
	return value, nil
}
