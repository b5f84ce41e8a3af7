// Package secret turns the configured SSH credentials into an immutable
// sshutil.Auth shared by every host of a fetch. Raw key bytes and
// passphrases live only inside this package and are wiped once parsed.
package secret

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/sabakan-dev/sabakan/internal/config"
	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/pkg/sshutil"
)

// maxPassphraseAttempts bounds how often a wrong passphrase is asked again.
const maxPassphraseAttempts = 3

// Credentials is the raw credential material for one fetch.
type Credentials struct {
	User           string
	KeyPath        string
	KnownHostsPath string
	StrictHostKey  bool

	key        []byte
	passphrase []byte
}

// Load reads the key file named in cfg. passphrase, when non-empty, is used
// instead of cfg.Passphrase. Load copies passphrase, so the caller keeps
// ownership of its slice.
func Load(cfg config.SSHConfig, passphrase []byte) (*Credentials, error) {
	c := &Credentials{
		User:           cfg.User,
		KeyPath:        cfg.SecretKeyPath,
		KnownHostsPath: cfg.KnownHostsPath,
		StrictHostKey:  cfg.StrictHostKey,
	}

	switch {
	case len(passphrase) > 0:
		c.passphrase = append([]byte(nil), passphrase...)
	case cfg.Passphrase != "":
		c.passphrase = []byte(cfg.Passphrase)
	}

	if c.KeyPath == "" {
		return c, nil
	}

	key, err := os.ReadFile(c.KeyPath)
	if err != nil {
		c.Wipe()
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("SSH key not found: %s", c.KeyPath),
				"Check ssh.secret_key_path in your config, or remove it to use ssh-agent.")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't read SSH key %s", c.KeyPath),
			"Check the file permissions: chmod 600 "+c.KeyPath)
	}
	c.key = key
	return c, nil
}

// HasKey reports whether key material was loaded from a file.
func (c *Credentials) HasKey() bool {
	return len(c.key) > 0
}

// BuildAuth parses the key and opens known_hosts, returning the Auth every
// worker shares. The raw key and passphrase are wiped whether or not parsing
// succeeds, so BuildAuth can only be called once per Credentials.
func (c *Credentials) BuildAuth() (*sshutil.Auth, error) {
	defer c.Wipe()

	hostKeys, err := sshutil.HostKeyCallback(c.KnownHostsPath, c.StrictHostKey)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't load known_hosts file %s", c.KnownHostsPath),
			"Check ssh.known_hosts_path in your config.")
	}

	auth := &sshutil.Auth{
		User:            c.User,
		HostKeyCallback: hostKeys,
	}

	if c.KeyPath == "" {
		auth.Signers = sshutil.AgentSigners()
		if len(auth.Signers) == 0 {
			return nil, errors.New(errors.ErrConfig,
				"No SSH key configured and ssh-agent has no keys",
				"Set ssh.secret_key_path in your config or add a key to the agent: ssh-add")
		}
		return auth, nil
	}

	if !c.HasKey() {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("SSH key %s was already used or is empty", c.KeyPath),
			"Load the credentials again before building auth.")
	}

	signer, err := sshutil.ParsePrivateKey(c.KeyPath, c.key, c.passphrase)
	if err != nil {
		return nil, err
	}
	auth.Signers = append(auth.Signers, signer)
	return auth, nil
}

// Wipe zeroes the key bytes and passphrase.
func (c *Credentials) Wipe() {
	zero(c.key)
	zero(c.passphrase)
	c.key = nil
	c.passphrase = nil
}

// Resolve builds the Auth for cfg, asking p for a passphrase when the key is
// encrypted and none is configured. A wrong prompted passphrase resets p and
// asks again. p may be nil, in which case an encrypted key without a
// configured passphrase is an error.
//
// A passphrase preset on p counts as configured: it is used without asking
// and a wrong one is an error.
func Resolve(cfg config.SSHConfig, p *Prompter) (*sshutil.Auth, error) {
	configured := cfg.Passphrase != "" || (p != nil && p.Configured())
	wrong := 0
	for {
		var passphrase []byte
		if cfg.Passphrase == "" && p != nil && p.Known() {
			pass, err := p.Passphrase()
			if err != nil {
				return nil, err
			}
			passphrase = pass
		}

		creds, err := Load(cfg, passphrase)
		zero(passphrase)
		if err != nil {
			return nil, err
		}

		auth, err := creds.BuildAuth()
		if err == nil {
			return auth, nil
		}

		var encrypted *sshutil.EncryptedKeyError
		switch {
		case stderrors.As(err, &encrypted) && p != nil:
			pass, perr := p.Passphrase()
			if perr != nil {
				return nil, perr
			}
			empty := len(pass) == 0
			zero(pass)
			if empty {
				p.Reset()
				return nil, errors.New(errors.ErrConfig,
					fmt.Sprintf("SSH key %s is encrypted and no passphrase was entered", encrypted.Path),
					"Enter the passphrase, or set SABAKAN_SSH_PASSPHRASE.")
			}
		case IsWrongPassphrase(err) && !configured && p != nil:
			p.Reset()
			wrong++
			if wrong >= maxPassphraseAttempts {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

// IsWrongPassphrase reports whether err came from decrypting a key with the
// wrong passphrase.
func IsWrongPassphrase(err error) bool {
	return stderrors.Is(err, sshutil.ErrWrongPassphrase)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
