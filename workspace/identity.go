package workspace

import (
	"crypto/ed25519"
	"os"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ssh"

	"github.com/roostlabs/roost/errors"
)

// Identity is the agent's stable identifier, derived from the workspace SSH
// key so keygen and identity never drift apart.
type Identity struct {
	DID       string            `json:"did"`
	PublicKey ed25519.PublicKey `json:"-"`
}

// LoadOrCreateIdentity derives the did:key identity from the workspace
// public key, generating a keypair on first use.
func (w *Workspace) LoadOrCreateIdentity() (*Identity, error) {
	sshPub, _, err := w.loadPublicKey()
	if errors.Is(err, errors.ErrNotFound) {
		if _, err := w.GenerateKeypair(defaultKeyComment(), false); err != nil {
			return nil, err
		}
		sshPub, _, err = w.loadPublicKey()
	}
	if err != nil {
		return nil, err
	}

	cryptoPub, ok := sshPub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, errors.Newf("public key type %s cannot be unwrapped", sshPub.Type())
	}
	edPub, ok := cryptoPub.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, errors.Newf("workspace key is %s, want ssh-ed25519", sshPub.Type())
	}

	return &Identity{
		DID:       encodeDIDKey(edPub),
		PublicKey: edPub,
	}, nil
}

// encodeDIDKey encodes an ed25519 public key as a did:key identifier:
// did:key:z + base58btc(0xed 0x01 || 32-byte pubkey).
func encodeDIDKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 2+len(pub))
	buf[0] = 0xed // multicodec ed25519-pub
	buf[1] = 0x01
	copy(buf[2:], pub)
	return "did:key:z" + base58.Encode(buf)
}

func defaultKeyComment() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "roost"
	}
	return "roost@" + host
}
