package core

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

const GenesisHashSeed = "PerpParity:genesis:v1"

// StateHasher chains a hash over every applied event so two replicas fed the
// same events can be compared by their chain tip.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// digest builds the canonical byte encoding of the state an event touched.
type digest []byte

func (d digest) uint64(v uint64) digest {
	return binary.LittleEndian.AppendUint64(d, v)
}

func (d digest) str(s string) digest {
	d = append(d, byte(len(s)))
	return append(d, s...)
}

// bigInt encodes sign, length and magnitude. nil encodes as zero.
func (d digest) bigInt(v *big.Int) digest {
	if v == nil {
		return append(d, 0, 0)
	}
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := v.Bytes()
	d = append(d, sign, byte(len(mag)))
	return append(d, mag...)
}
