// Package sshcore implements the SSH transport primitives: the Handle
// Owner, authentication, known-hosts TOFU, and the host-key preflight
// cache. It has no notion of "node" or "pool entry" — those live in
// internal/router and internal/pool, which consume this package.
package sshcore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"oxideterm/internal/errs"
)

// defaultKeySearchOrder is the order private keys are tried when no
// explicit path is given, per spec §4.3.
var defaultKeySearchOrder = []string{
	"id_ed25519",
	"id_ecdsa",
	"id_rsa",
}

// LoadPrivateKey reads and parses a private key file, handling the
// passphrase-required / wrong-passphrase distinction spec §4.3 requires.
func LoadPrivateKey(path, passphrase string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read key %s", path)
	}

	if !isEncryptedKey(raw) {
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, errs.Wrap(errs.KindAuthentication, err, "parse private key")
		}
		return signer, nil
	}

	if passphrase == "" {
		return nil, errs.New(errs.KindAuthentication, "PassphraseRequired")
	}

	signer, err := ssh.ParsePrivateKeyWithPassphrase(raw, []byte(passphrase))
	if err != nil {
		return nil, errs.New(errs.KindAuthentication, "InvalidPassphrase")
	}
	return signer, nil
}

// isEncryptedKey sniffs the PEM headers for the textual markers OpenSSH
// and PKCS1/8 writers use for encrypted private keys.
func isEncryptedKey(raw []byte) bool {
	s := string(raw)
	return strings.Contains(s, "ENCRYPTED") || strings.Contains(s, "Proc-Type: 4,ENCRYPTED")
}

// DefaultKeyPath finds the first key in the search order that exists
// under dir (typically ~/.ssh), returning "" if none is found.
func DefaultKeyPath(dir string) string {
	for _, name := range defaultKeySearchOrder {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// HomeSSHDir returns the user's ~/.ssh directory.
func HomeSSHDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ssh"), nil
}
