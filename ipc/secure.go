// Box-encrypted payloads for ipc.Fleet's get/gather RPCs, adapted from
// the host application's pkg/relay.RelayProtocol: each worker generates a
// NaCl box key pair at startup, learns its peers' public keys out of
// band (via a reserved ipc message in a real deployment), and encrypts
// request/response payloads addressed to a specific worker the same way
// RelayProtocol.createEncryptedMessage does, substituting a small
// integer worker index for libp2p's peer.ID.
package ipc

import (
	"crypto/rand"
	"sync"

	"golang.org/x/crypto/nacl/box"

	"github.com/TheEntropyCollective/scoro/internal/errs"
)

// KeyPair is a worker's NaCl box key pair.
type KeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// GenerateKeyPair creates a fresh box key pair, mirroring the host
// application's relay.GenerateKeyPair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Resource("ipc", "failed to generate box key pair", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// SecureChannel tracks this worker's own key pair plus the public keys
// of peers it has learned about, encrypting/decrypting get/gather
// payloads addressed between workers.
type SecureChannel struct {
	self *KeyPair

	mu       sync.RWMutex
	peerKeys map[uint8]*[32]byte
}

// NewSecureChannel generates a key pair for the local worker.
func NewSecureChannel() (*SecureChannel, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &SecureChannel{self: kp, peerKeys: map[uint8]*[32]byte{}}, nil
}

// PublicKey returns this worker's public key, to be distributed to
// peers (e.g. over the reserved sys-ping handshake).
func (s *SecureChannel) PublicKey() *[32]byte { return s.self.Public }

// LearnPeerKey records a peer worker's public key.
func (s *SecureChannel) LearnPeerKey(worker uint8, pub *[32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerKeys[worker] = pub
}

// Seal encrypts plaintext for worker dst, returning nonce||ciphertext
// (the nonce is prepended so Open needs only the sealed blob, matching
// the wire-efficient shape the pipe-message protocol expects).
func (s *SecureChannel) Seal(dst uint8, plaintext []byte) ([]byte, error) {
	s.mu.RLock()
	pub, ok := s.peerKeys[dst]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.Programmer("ipc", "no public key known for destination worker")
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errs.Resource("ipc", "failed to generate nonce", err)
	}

	sealed := box.Seal(nonce[:], plaintext, &nonce, pub, s.self.Private)
	return sealed, nil
}

// Open decrypts a blob produced by Seal from worker src.
func (s *SecureChannel) Open(src uint8, blob []byte) ([]byte, error) {
	if len(blob) < 24 {
		return nil, errs.Protocol("ipc", "sealed payload shorter than nonce")
	}
	s.mu.RLock()
	pub, ok := s.peerKeys[src]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.Programmer("ipc", "no public key known for source worker")
	}

	var nonce [24]byte
	copy(nonce[:], blob[:24])
	plaintext, ok := box.Open(nil, blob[24:], &nonce, pub, s.self.Private)
	if !ok {
		return nil, errs.Protocol("ipc", "failed to decrypt sealed payload")
	}
	return plaintext, nil
}
