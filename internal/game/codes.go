package game

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Ambiguous glyphs (0/O, 1/I) are excluded so codes survive being
// read aloud across a table.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// GenerateRoomCode returns a short join code suitable for typing on a
// phone.
func GenerateRoomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate room code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// GeneratePeerID returns a fresh transport address for a joining
// player. Peer ids are addresses, not identities; a reconnecting
// player gets a new one.
func GeneratePeerID() string {
	return "peer-" + uuid.NewString()
}
