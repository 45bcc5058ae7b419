// Package sshkeys generates and persists the gateway's ED25519 key material:
// the host key presented by the SSH front door and helpers for parsing the
// per-cluster client keys held in the registry.
package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	hostKeyFile       = "host_key"
	hostPublicKeyFile = "host_key.pub"
)

// GenerateKeyPair generates an ED25519 key pair and returns the OpenSSH
// format public key and PEM-encoded private key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer.
func ParsePrivateKey(privateKeyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// EnsureHostKey loads the SSH front door host key from dir, generating and
// persisting a new key pair on first start. The private key is written
// with mode 0600.
func EnsureHostKey(dir string) (ssh.Signer, error) {
	privPath := filepath.Join(dir, hostKeyFile)

	if data, err := os.ReadFile(privPath); err == nil {
		return ParsePrivateKey(data)
	}

	pub, privPEM, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hostPublicKeyFile), pub, 0644); err != nil {
		return nil, fmt.Errorf("write host public key: %w", err)
	}

	log.Printf("[sshkeys] generated host key pair in %s", dir)
	return ParsePrivateKey(privPEM)
}
