package commitment

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/flipgg/flipsync/internal/events"
)

// MinSecret is the floor this client enforces on generated secrets. The
// ledger program only rejects trivially weak values (0, 1 and the all-ones
// sentinel); staying well above its floor costs nothing.
const MinSecret = 1000

// Hash computes the on-chain commitment for a choice/secret pair: one choice
// byte, seven bytes of padding, the secret little-endian, double SHA-256.
// The layout must match the ledger program exactly or reveal fails.
func Hash(choice events.CoinSide, secret uint64) [32]byte {
	data := make([]byte, 16)
	if choice == events.Tails {
		data[0] = 1
	}
	binary.LittleEndian.PutUint64(data[8:], secret)

	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// GenerateSecret draws a cryptographically random secret, retrying the
// (astronomically rare) values the ledger would reject as weak. The ledger
// also rejects the all-ones value, so it is skipped alongside the floor.
func GenerateSecret() (uint64, error) {
	return generateSecret(rand.Reader)
}

func generateSecret(r io.Reader) (uint64, error) {
	var buf [8]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("generate secret: %w", err)
		}
		secret := binary.LittleEndian.Uint64(buf[:])
		if secret >= MinSecret && secret != math.MaxUint64 {
			return secret, nil
		}
	}
}
