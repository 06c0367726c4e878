package workspace

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
)

// Keypair describes the workspace SSH key on disk.
type Keypair struct {
	PrivatePath string `json:"private_path"`
	PublicPath  string `json:"public_path"`
	PublicLine  string `json:"public_line"` // authorized_keys format
	Fingerprint string `json:"fingerprint"` // SHA256:...
}

// GenerateKeypair creates an ed25519 keypair under the keys directory:
// OpenSSH PEM private key (0600) and authorized_keys public line (0644).
// Refuses to overwrite an existing key unless force is set.
func (w *Workspace) GenerateKeypair(comment string, force bool) (*Keypair, error) {
	privPath := w.PrivateKeyPath()
	if !force {
		if _, err := os.Stat(privPath); err == nil {
			return nil, errors.WithHint(
				errors.Wrapf(errors.ErrAlreadyExists, "key %s", privPath),
				"pass --force to overwrite the existing key")
		}
	}

	if err := os.MkdirAll(w.KeysDir, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create keys directory %s", w.KeysDir)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ed25519 keypair")
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode private key")
	}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(block), am.SecretFilePermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to write private key %s", privPath)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert public key")
	}
	line := strings.TrimRight(string(ssh.MarshalAuthorizedKey(sshPub)), "\n")
	if comment != "" {
		line += " " + comment
	}

	pubPath := w.PublicKeyPath()
	if err := os.WriteFile(pubPath, []byte(line+"\n"), am.DefaultFilePermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to write public key %s", pubPath)
	}

	return &Keypair{
		PrivatePath: privPath,
		PublicPath:  pubPath,
		PublicLine:  line,
		Fingerprint: ssh.FingerprintSHA256(sshPub),
	}, nil
}

// Keypair loads the key already on disk. Returns a not-found error when no
// key has been generated yet.
func (w *Workspace) Keypair() (*Keypair, error) {
	sshPub, line, err := w.loadPublicKey()
	if err != nil {
		return nil, err
	}
	return &Keypair{
		PrivatePath: w.PrivateKeyPath(),
		PublicPath:  w.PublicKeyPath(),
		PublicLine:  line,
		Fingerprint: ssh.FingerprintSHA256(sshPub),
	}, nil
}

// Signer loads the private key for SSH transport auth (git push/pull).
func (w *Workspace) Signer() (ssh.Signer, error) {
	data, err := os.ReadFile(w.PrivateKeyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithHint(
				errors.Wrapf(errors.ErrNotFound, "private key %s", w.PrivateKeyPath()),
				"run `roost keygen` to create the workspace key")
		}
		return nil, errors.Wrapf(err, "failed to read private key %s", w.PrivateKeyPath())
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse private key %s", w.PrivateKeyPath())
	}
	return signer, nil
}

func (w *Workspace) loadPublicKey() (ssh.PublicKey, string, error) {
	data, err := os.ReadFile(w.PublicKeyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", errors.Wrapf(errors.ErrNotFound, "public key %s", w.PublicKeyPath())
		}
		return nil, "", errors.Wrapf(err, "failed to read public key %s", w.PublicKeyPath())
	}

	sshPub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to parse public key %s", w.PublicKeyPath())
	}
	return sshPub, strings.TrimRight(string(data), "\n"), nil
}
