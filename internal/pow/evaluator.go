// Package pow implements the memory-hard proof-of-work hash and the target
// arithmetic the miner compares digests against.
package pow

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/argon2"

	"github.com/bardlex/snapminer/pkg/errors"
)

// Supported hash variants.
const (
	VariantArgon2id = "argon2id"
	VariantArgon2i  = "argon2i"
)

// MaxOutputLen is the widest digest a block hash can carry.
const MaxOutputLen = 32

// Params is the static hash configuration shared by every worker.
type Params struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
	OutputLen   uint32
	Variant     string
	Version     int
	Salt        []byte
}

// Validate reports a configuration error for parameters the hash cannot run with.
func (p Params) Validate() error {
	switch {
	case p.Variant != VariantArgon2id && p.Variant != VariantArgon2i:
		return paramError("unsupported variant %q", p.Variant)
	case p.Version != argon2.Version:
		return paramError("unsupported version %#x, only %#x is available", p.Version, argon2.Version)
	case p.Time < 1:
		return paramError("time cost must be at least 1")
	case p.Parallelism < 1:
		return paramError("parallelism must be at least 1")
	case p.MemoryKiB < 8*uint32(p.Parallelism):
		return paramError("memory cost must be at least 8 KiB per lane")
	case p.OutputLen < 4 || p.OutputLen > MaxOutputLen:
		return paramError("output length must be between 4 and %d bytes", MaxOutputLen)
	case len(p.Salt) < 8:
		return paramError("salt must be at least 8 bytes")
	}
	return nil
}

func paramError(format string, args ...any) error {
	return errors.New(errors.ErrorTypeConfig, "argon2_params", fmt.Sprintf(format, args...))
}

type keyFunc func(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte

// Evaluator turns a hashing buffer into a digest. It is safe for concurrent
// use; each call allocates its own working memory.
type Evaluator struct {
	params Params
	key    keyFunc
}

// NewEvaluator validates params once and returns an evaluator bound to them.
func NewEvaluator(params Params) (*Evaluator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key := argon2.IDKey
	if params.Variant == VariantArgon2i {
		key = argon2.Key
	}

	salt := make([]byte, len(params.Salt))
	copy(salt, params.Salt)
	params.Salt = salt

	return &Evaluator{params: params, key: key}, nil
}

// Params returns the parameters the evaluator was built with.
func (e *Evaluator) Params() Params {
	return e.params
}

// Evaluate hashes buf and returns the digest as an unsigned big-endian integer.
// A failure inside the hash is returned as a hash error, never a panic.
func (e *Evaluator) Evaluate(buf []byte) (digest *big.Int, err error) {
	defer func() {
		if r := recover(); r != nil {
			digest = nil
			err = errors.New(errors.ErrorTypeHash, "evaluate", fmt.Sprintf("hash panicked: %v", r))
		}
	}()

	p := e.params
	out := e.key(buf, p.Salt, p.Time, p.MemoryKiB, p.Parallelism, p.OutputLen)
	if uint32(len(out)) != p.OutputLen {
		return nil, errors.New(errors.ErrorTypeHash, "evaluate", "short digest").
			WithContext("length", len(out))
	}

	return new(big.Int).SetBytes(out), nil
}

// Meets reports whether digest satisfies target.
func Meets(digest, target *big.Int) bool {
	if digest == nil || target == nil {
		return false
	}
	return digest.Cmp(target) <= 0
}
