// Package chain holds the block model the miner searches over, the builder
// that assembles candidates from the node's pending work, and the node's
// JSON-RPC client.
package chain

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"io"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/snapminer/pkg/errors"
)

// BlockVersion is the only block version the miner produces.
const BlockVersion int32 = 1

// GenesisPrevHash is the previous hash recorded by the first block.
var GenesisPrevHash = chainhash.Hash{}

// Transaction is an opaque transaction taken from the node's mempool.
type Transaction struct {
	ID     chainhash.Hash
	Raw    []byte
	Fee    int64
	Reward bool
}

// CandidateBlock is one unit of work. Everything except Nonce and Hash is
// fixed by the builder; workers clone it and only touch those two fields.
type CandidateBlock struct {
	Version      int32
	Height       int64
	PrevHash     chainhash.Hash
	MerkleRoot   chainhash.Hash
	Timestamp    int64
	Miner        Identity
	Transactions []Transaction

	Nonce uint64
	// Hash is the accepted digest. Nil until a trial succeeds.
	Hash *chainhash.Hash
}

// PlaceholderBlock is the work installed before the first refresh succeeds.
func PlaceholderBlock() *CandidateBlock {
	return &CandidateBlock{
		Version:   BlockVersion,
		PrevHash:  GenesisPrevHash,
		Timestamp: time.Now().Unix(),
	}
}

// Clone returns a copy that shares no mutable state with b.
func (b *CandidateBlock) Clone() *CandidateBlock {
	c := *b
	if b.Transactions != nil {
		c.Transactions = make([]Transaction, len(b.Transactions))
		copy(c.Transactions, b.Transactions)
	}
	if b.Hash != nil {
		h := *b.Hash
		c.Hash = &h
	}
	return &c
}

// headerSize is the fixed part of the hashing buffer, without the tx count varint.
const headerSize = 4 + 8 + chainhash.HashSize + chainhash.HashSize + 8 + IdentitySize + 8

// HashingBuf returns the canonical header serialization the proof-of-work
// hash is computed over.
func (b *CandidateBlock) HashingBuf() ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + 9)
	if err := b.writeHeader(&buf); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "hashing_buf", "failed to serialize header")
	}
	return buf.Bytes(), nil
}

// Serialize writes the full block, header followed by every transaction.
func (b *CandidateBlock) Serialize(w io.Writer) error {
	if err := b.validate(); err != nil {
		return err
	}
	if err := b.writeHeader(w); err != nil {
		return err
	}
	for _, tx := range b.Transactions {
		if err := wire.WriteVarBytes(w, 0, tx.Raw); err != nil {
			return err
		}
	}
	return nil
}

// Bytes is Serialize into a fresh slice.
func (b *CandidateBlock) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *CandidateBlock) writeHeader(w io.Writer) error {
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], uint32(b.Version))
	if _, err := w.Write(scratch[:4]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(scratch[:], uint64(b.Height))
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.PrevHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.MerkleRoot[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(scratch[:], uint64(b.Timestamp))
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.Miner[:]); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(b.Transactions))); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(scratch[:], b.Nonce)
	_, err := w.Write(scratch[:])
	return err
}

func (b *CandidateBlock) validate() error {
	if b.Height < 0 {
		return malformed("negative height").WithContext("height", b.Height)
	}
	for i, tx := range b.Transactions {
		if len(tx.Raw) == 0 {
			return malformed("empty transaction").WithContext("index", i)
		}
		if tx.Reward != (i == 0) {
			return malformed("reward transaction must come first and only once").WithContext("index", i)
		}
	}
	return nil
}

// ErrMalformedBlock is the cause of every block validation failure.
var ErrMalformedBlock = stderrors.New("malformed block")

func malformed(msg string) *errors.ServiceError {
	return errors.Wrap(ErrMalformedBlock, errors.ErrorTypeValidation, "validate_block", msg)
}

// HashFromDigest stores a big-endian digest so that Hash.String prints it
// most significant byte first. Digests are at most pow.MaxOutputLen bytes, so
// the truncation below never drops a significant byte of an evaluated digest.
func HashFromDigest(digest *big.Int) chainhash.Hash {
	b := digest.Bytes()
	if len(b) > chainhash.HashSize {
		b = b[len(b)-chainhash.HashSize:]
	}

	var h chainhash.Hash
	for i, v := range b {
		h[len(b)-1-i] = v
	}
	return h
}
