package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
)

const joinCodeBytes = 16

var roomPrefix = []byte("podpair/room/v1:")

var joinCodeEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// NewJoinCode returns a 128-bit random code used as the pairing key.
func NewJoinCode() (string, error) {
	b := make([]byte, joinCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	return joinCodeEncoding.EncodeToString(b), nil
}

// ValidJoinCode reports whether code has the shape NewJoinCode produces.
func ValidJoinCode(code string) bool {
	if code != strings.ToLower(code) {
		return false
	}

	b, err := joinCodeEncoding.DecodeString(code)

	return err == nil && len(b) == joinCodeBytes
}

// RoomID is the name two parties holding code meet under at the relay. It has
// the shape of a join code but does not reveal the code, which stays the
// secret that authenticates the secure channel.
func RoomID(code string) string {
	sum := sha256.Sum256(append(append([]byte{}, roomPrefix...), code...))

	return joinCodeEncoding.EncodeToString(sum[:joinCodeBytes])
}
