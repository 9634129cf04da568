package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"

	cryptossh "golang.org/x/crypto/ssh"
)

// NewHostKey generates a throwaway ed25519 host key signer for a test server.
func NewHostKey() (cryptossh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return cryptossh.NewSignerFromKey(priv)
}

// NewClientKeyPair generates a throwaway ed25519 keypair suitable for
// WithPublicKey and for a sshdial.ClientAuth.PrivateKey PEM.
func NewClientKeyPair() (signer cryptossh.Signer, privatePEM []byte, err error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	signer, err = cryptossh.NewSignerFromKey(priv)
	if err != nil {
		return nil, nil, err
	}
	block, err := cryptossh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, nil, err
	}
	return signer, cryptossh.MarshalPEM(block), nil
}
