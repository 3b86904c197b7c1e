package pow

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/pbnjay/memory"

	"github.com/bardlex/snapminer/pkg/errors"
)

// RawDifficulty is the 32-byte big-endian base target reported by the node.
type RawDifficulty [32]byte

// txEaseDivisor is the fraction of the base target each transaction adds.
const txEaseDivisor = 64

// MaxTarget is the largest representable 256-bit target.
var MaxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseRawDifficulty decodes the node's hex difficulty. Shorter values are
// left-padded with zeros.
func ParseRawDifficulty(s string) (RawDifficulty, error) {
	var raw RawDifficulty

	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return raw, errors.Wrap(err, errors.ErrorTypeValidation, "parse_difficulty", "difficulty is not hex")
	}
	if len(b) > len(raw) {
		return raw, errors.New(errors.ErrorTypeValidation, "parse_difficulty", "difficulty wider than 32 bytes").
			WithContext("length", len(b))
	}

	copy(raw[len(raw)-len(b):], b)
	return raw, nil
}

// String returns the hex encoding.
func (r RawDifficulty) String() string {
	return hex.EncodeToString(r[:])
}

// DeriveTarget converts the node difficulty and the candidate's transaction
// count into the target a digest must not exceed. Each transaction raises the
// target by base/64, up to twice the base, and never past MaxTarget.
func DeriveTarget(raw RawDifficulty, txCount int) (*big.Int, error) {
	if txCount < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "derive_target", "negative transaction count")
	}

	base := new(big.Int).SetBytes(raw[:])
	if base.Sign() == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "derive_target", "node reported a zero target")
	}

	n := int64(min(txCount, txEaseDivisor))
	ease := new(big.Int).Mul(base, big.NewInt(n))
	ease.Quo(ease, big.NewInt(txEaseDivisor))

	target := ease.Add(ease, base)
	if target.Cmp(MaxTarget) > 0 {
		target.Set(MaxTarget)
	}
	return target, nil
}

// CheckMemoryBudget fails when workers concurrent hashes would need more than
// half of the machine's memory. Unknown totals are not checked.
func CheckMemoryBudget(params Params, workers int) error {
	total := memory.TotalMemory()
	if total == 0 {
		return nil
	}
	return checkBudget(params, workers, total)
}

func checkBudget(params Params, workers int, total uint64) error {
	need := uint64(workers) * uint64(params.MemoryKiB) * 1024
	if need > total/2 {
		return errors.New(errors.ErrorTypeConfig, "memory_budget",
			"hash memory for all workers exceeds half of system memory").
			WithContext("workers", workers).
			WithContext("need_bytes", need).
			WithContext("total_bytes", total)
	}
	return nil
}
