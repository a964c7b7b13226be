package sshcore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	oerrs "oxideterm/internal/errs"
)

// AuthMethod is the tagged union of supported authentication methods
// (spec §4.3). Exactly one variant field is populated per Kind.
type AuthMethod struct {
	Kind AuthKind

	// Password
	Password string

	// Key / Certificate
	KeyPath    string
	CertPath   string
	Passphrase string

	// KeyboardInteractive
	Prompter KeyboardInteractivePrompter
}

type AuthKind string

const (
	AuthPassword            AuthKind = "password"
	AuthKey                 AuthKind = "key"
	AuthCertificate          AuthKind = "certificate"
	AuthAgent               AuthKind = "agent"
	AuthKeyboardInteractive AuthKind = "keyboard_interactive"
)

// KeyboardInteractivePrompter is the out-of-band callback contract for
// keyboard-interactive auth: the backend emits a prompt event per server
// challenge and awaits a correlated response, with a 60s deadline per
// response (spec §4.3). Implementations live in the UI-facing layer;
// this package only defines the seam.
type KeyboardInteractivePrompter interface {
	Prompt(ctx context.Context, instruction string, questions []string, echos []bool) ([]string, error)
}

const kbiResponseDeadline = 60 * time.Second

// Fingerprint is the part of an AuthMethod that participates in
// find_by_config matching (spec §4.2): passwords/passphrases compared by
// value, key/agent methods compared by normalized key path.
func (a AuthMethod) Fingerprint() string {
	switch a.Kind {
	case AuthPassword:
		return "password:" + a.Password
	case AuthKey:
		return "key:" + normalizeKeyPath(a.KeyPath) + ":" + a.Passphrase
	case AuthCertificate:
		return "cert:" + normalizeKeyPath(a.KeyPath) + ":" + normalizeKeyPath(a.CertPath) + ":" + a.Passphrase
	case AuthAgent:
		return "agent"
	case AuthKeyboardInteractive:
		return "kbi"
	default:
		return "unknown"
	}
}

func normalizeKeyPath(p string) string {
	if p == "" {
		return p
	}
	if abs, err := os.UserHomeDir(); err == nil && len(p) >= 2 && p[:2] == "~/" {
		p = abs + p[1:]
	}
	return p
}

// methods resolves an AuthMethod into one or more ssh.AuthMethod values
// to place in ssh.ClientConfig.Auth.
func (a AuthMethod) methods(ctx context.Context) ([]ssh.AuthMethod, error) {
	switch a.Kind {
	case AuthPassword:
		return []ssh.AuthMethod{ssh.Password(a.Password)}, nil

	case AuthKey:
		path := a.KeyPath
		if path == "" {
			dir, err := HomeSSHDir()
			if err != nil {
				return nil, err
			}
			path = DefaultKeyPath(dir)
			if path == "" {
				return nil, oerrs.New(oerrs.KindAuthentication, "no private key found in default search order")
			}
		}
		signer, err := LoadPrivateKey(path, a.Passphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	case AuthCertificate:
		return certificateAuthMethods(a)

	case AuthAgent:
		return agentAuthMethods()

	case AuthKeyboardInteractive:
		if a.Prompter == nil {
			return nil, oerrs.New(oerrs.KindAuthentication, "keyboard-interactive requires a prompter")
		}
		return []ssh.AuthMethod{ssh.KeyboardInteractiveChallenge(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			cctx, cancel := context.WithTimeout(ctx, kbiResponseDeadline)
			defer cancel()
			return a.Prompter.Prompt(cctx, instruction, questions, echos)
		})}, nil

	default:
		return nil, oerrs.New(oerrs.KindAuthentication, fmt.Sprintf("unknown auth kind %q", a.Kind))
	}
}

func certificateAuthMethods(a AuthMethod) ([]ssh.AuthMethod, error) {
	signer, err := LoadPrivateKey(a.KeyPath, a.Passphrase)
	if err != nil {
		return nil, err
	}
	certBytes, err := os.ReadFile(a.CertPath)
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindAuthentication, err, "read certificate")
	}
	pk, _, _, _, err := ssh.ParseAuthorizedKey(certBytes)
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindAuthentication, err, "parse certificate")
	}
	cert, ok := pk.(*ssh.Certificate)
	if !ok {
		return nil, oerrs.New(oerrs.KindAuthentication, "certificate file does not contain an SSH certificate")
	}
	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindAuthentication, err, "build certificate signer")
	}
	return []ssh.AuthMethod{ssh.PublicKeys(certSigner)}, nil
}

// agentSocketPath returns the per-OS path to the SSH agent socket/pipe
// (spec §4.3): SSH_AUTH_SOCK on POSIX, a named pipe on Windows.
func agentSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\openssh-ssh-agent`
	}
	return os.Getenv("SSH_AUTH_SOCK")
}

func agentAuthMethods() ([]ssh.AuthMethod, error) {
	sock := agentSocketPath()
	if sock == "" {
		return nil, oerrs.New(oerrs.KindAuthentication, "SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial(agentNetwork(), sock)
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindAuthentication, err, "dial ssh-agent")
	}
	ac := agent.NewClient(conn)
	signers, err := ac.Signers()
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindAuthentication, err, "list agent identities")
	}
	if len(signers) == 0 {
		return nil, oerrs.New(oerrs.KindAuthentication, "ssh-agent has no identities loaded")
	}
	// Each signer already clones its own public key internally (the
	// agent package's wrapper does the owned-copy dance for us), so no
	// suspension-point borrow issue arises here.
	return []ssh.AuthMethod{ssh.PublicKeysCallback(ac.Signers)}, nil
}

func agentNetwork() string {
	if runtime.GOOS == "windows" {
		return "pipe"
	}
	return "unix"
}

var errNoAuthMethods = errors.New("no authentication method provided")
