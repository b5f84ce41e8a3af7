package secret

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/sabakan-dev/sabakan/internal/errors"
	"golang.org/x/term"
)

// PromptText is shown when asking for the key passphrase.
const PromptText = "SSH key passphrase"

// ReadFunc reads a secret from the user.
type ReadFunc func(prompt string) ([]byte, error)

// Prompter asks for the passphrase at most once per process and remembers
// the answer until Reset.
type Prompter struct {
	mu    sync.Mutex
	read  ReadFunc
	value []byte
	known bool
	// preset marks a value supplied up front rather than typed. A wrong
	// preset passphrase is not asked again.
	preset bool
}

// NewPrompter creates a prompter backed by read.
func NewPrompter(read ReadFunc) *Prompter {
	return &Prompter{read: read}
}

// Passphrase returns the remembered passphrase, asking for it on first use.
// Concurrent callers wait for the single prompt. The returned slice is a
// copy the caller may wipe.
func (p *Prompter) Passphrase() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.known {
		value, err := p.read(PromptText)
		if err != nil {
			return nil, err
		}
		p.value = value
		p.known = true
	}
	return append([]byte(nil), p.value...), nil
}

// Preset stores value as the passphrase without asking. Preset copies
// value, so the caller may wipe it. An empty value leaves p unchanged.
func (p *Prompter) Preset(value []byte) {
	if len(value) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	zero(p.value)
	p.value = append([]byte(nil), value...)
	p.known = true
	p.preset = true
}

// Configured reports whether the remembered passphrase came from Preset.
func (p *Prompter) Configured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preset
}

// Known reports whether a passphrase has been read and not reset.
func (p *Prompter) Known() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.known
}

// Reset wipes the remembered passphrase so the next call asks again.
func (p *Prompter) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	zero(p.value)
	p.value = nil
	p.known = false
	p.preset = false
}

// FormReader asks with a huh password input.
func FormReader() ReadFunc {
	return func(prompt string) ([]byte, error) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, noTerminalError()
		}

		var value string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title(prompt).
					EchoMode(huh.EchoModePassword).
					Value(&value),
			),
		)
		if err := form.Run(); err != nil {
			if stderrors.Is(err, huh.ErrUserAborted) {
				return nil, errors.New(errors.ErrConfig, "Passphrase entry cancelled", "")
			}
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Set SABAKAN_SSH_PASSPHRASE instead of typing it.")
		}
		return []byte(value), nil
	}
}

// TerminalReader asks on in without echo, writing the prompt to out. It suits
// plain terminals where a full form isn't wanted.
func TerminalReader(in *os.File, out io.Writer) ReadFunc {
	return func(prompt string) ([]byte, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return nil, noTerminalError()
		}

		fmt.Fprintf(out, "%s: ", prompt)
		value, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig, "Failed to read passphrase", "")
		}
		return value, nil
	}
}

func noTerminalError() error {
	return errors.New(errors.ErrConfig,
		"SSH key is encrypted and there's no terminal to ask for the passphrase",
		"Set SABAKAN_SSH_PASSPHRASE or add the key to ssh-agent: ssh-add")
}
