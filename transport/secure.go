package transport

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	handshakePrefix = []byte("podpair-hs1:")
	confirmPrefix   = []byte("podpair-cf1:")
	channelInfo     = []byte("podpair/channel/v1")
	confirmInfo     = []byte("podpair/confirm/v1")
)

// ErrHandshake is returned when the peer's key exchange message is malformed
// or the peer could not prove it holds the join code.
var ErrHandshake = errors.New("secure channel handshake failed")

// ErrFrameOrder is returned when a sealed frame does not open as the next
// frame expected: it was replayed, dropped, reordered or altered.
var ErrFrameOrder = errors.New("frame out of order")

type secureChannel struct {
	inner  Channel
	sealer cipher.AEAD
	opener cipher.AEAD

	sendMu  sync.Mutex
	sendSeq uint64
	recvMu  sync.Mutex
	recvSeq uint64
}

// Secure runs an X25519 exchange over ch, authenticated with the join code,
// and returns a channel whose frames are sealed with AES-GCM, one key per
// direction. Each side proves knowledge of the code with an HMAC over both
// public keys before any key is derived, so a relay that only knows the room
// id cannot sit in the middle. Frames carry no nonce: both ends count them, so
// a replayed, dropped or reordered frame fails to open. Every sealed frame
// travels as binary; the original kind is restored on receipt.
func Secure(ctx context.Context, ch Channel, joinCode string) (Channel, error) {
	var priv [curve25519.ScalarSize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	peer, err := exchange(ctx, ch, handshakePrefix, pub)
	if err != nil {
		return nil, err
	}

	if bytes.Equal(peer, pub) {
		return nil, fmt.Errorf("%w: reflected key", ErrHandshake)
	}

	confirmKey, err := deriveKeys([]byte(joinCode), nil, confirmInfo, 1)
	if err != nil {
		return nil, err
	}

	proof, err := exchange(ctx, ch, confirmPrefix, confirmTag(confirmKey[0], pub, peer))
	if err != nil {
		return nil, err
	}

	if !hmac.Equal(proof, confirmTag(confirmKey[0], peer, pub)) {
		return nil, fmt.Errorf("%w: peer does not hold the join code", ErrHandshake)
	}

	shared, err := curve25519.X25519(priv[:], peer)
	if err != nil {
		return nil, fmt.Errorf("%w: key agreement: %v", ErrHandshake, err)
	}

	keys, err := deriveKeys(shared, []byte(joinCode), channelInfo, 2)
	if err != nil {
		return nil, err
	}

	// Both sides derive the same two keys; the lower public key sends with the first.
	sendKey, recvKey := keys[0], keys[1]
	if bytes.Compare(pub, peer) > 0 {
		sendKey, recvKey = recvKey, sendKey
	}

	sealer, err := newGCM(sendKey)
	if err != nil {
		return nil, err
	}

	opener, err := newGCM(recvKey)
	if err != nil {
		return nil, err
	}

	return &secureChannel{inner: ch, sealer: sealer, opener: opener}, nil
}

// exchange sends prefix‖body and returns the body of the peer's matching
// message.
func exchange(ctx context.Context, ch Channel, prefix, body []byte) ([]byte, error) {
	msg := append(append([]byte{}, prefix...), body...)
	if err := ch.Send(ctx, Frame{Kind: FrameBinary, Data: msg}); err != nil {
		return nil, &TransportError{Op: "handshake", Err: err}
	}

	f, err := ch.Recv(ctx)
	if err != nil {
		return nil, &TransportError{Op: "handshake", Err: err}
	}

	if f.Kind != FrameBinary || !bytes.HasPrefix(f.Data, prefix) || len(f.Data) != len(msg) {
		return nil, ErrHandshake
	}

	return f.Data[len(prefix):], nil
}

func confirmTag(key, from, to []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(from)
	mac.Write(to)

	return mac.Sum(nil)
}

func deriveKeys(secret, salt, info []byte, n int) ([][]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)

	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = make([]byte, 32)
		if _, err := io.ReadFull(r, keys[i]); err != nil {
			return nil, fmt.Errorf("hkdf read error: %w", err)
		}
	}

	return keys, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher init error: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aes gcm init error: %w", err)
	}

	return gcm, nil
}

func counterNonce(size int, seq uint64) []byte {
	nonce := make([]byte, size)
	binary.BigEndian.PutUint64(nonce[size-8:], seq)

	return nonce
}

func (s *secureChannel) Send(ctx context.Context, f Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	plaintext := append([]byte{byte(f.Kind)}, f.Data...)
	ciphertext := s.sealer.Seal(nil, counterNonce(s.sealer.NonceSize(), s.sendSeq), plaintext, nil)
	s.sendSeq++

	return s.inner.Send(ctx, Frame{Kind: FrameBinary, Data: ciphertext})
}

func (s *secureChannel) Recv(ctx context.Context) (Frame, error) {
	f, err := s.inner.Recv(ctx)
	if err != nil {
		return Frame{}, err
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	plaintext, err := s.opener.Open(nil, counterNonce(s.opener.NonceSize(), s.recvSeq), f.Data, nil)
	if err != nil {
		return Frame{}, &TransportError{Op: "open", Err: fmt.Errorf("%w: frame %d: %v", ErrFrameOrder, s.recvSeq, err)}
	}

	s.recvSeq++

	if len(plaintext) == 0 {
		return Frame{}, &TransportError{Op: "open", Err: errors.New("empty frame")}
	}

	return Frame{Kind: FrameKind(plaintext[0]), Data: plaintext[1:]}, nil
}

func (s *secureChannel) Close() error { return s.inner.Close() }
