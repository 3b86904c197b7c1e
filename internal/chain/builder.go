package chain

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/snapminer/pkg/errors"
)

// PendingSet is what the node offers to build the next block from.
type PendingSet struct {
	Height       int64
	PrevHash     chainhash.Hash
	Reward       int64
	Transactions []Transaction
}

// rewardTxSize is height, payee and amount.
const rewardTxSize = 8 + IdentitySize + 8

// NewRewardTransaction builds the transaction paying reward plus fees to miner.
func NewRewardTransaction(height int64, miner Identity, amount int64) Transaction {
	raw := make([]byte, rewardTxSize)
	binary.LittleEndian.PutUint64(raw[0:8], uint64(height))
	copy(raw[8:8+IdentitySize], miner[:])
	binary.LittleEndian.PutUint64(raw[8+IdentitySize:], uint64(amount))

	return Transaction{
		ID:     chainhash.DoubleHashH(raw),
		Raw:    raw,
		Reward: true,
	}
}

// BuildCandidate assembles a fresh candidate paying miner. The returned block
// shares no memory with pending.
func BuildCandidate(pending PendingSet, miner Identity, now time.Time) (*CandidateBlock, error) {
	if pending.Height < 0 {
		return nil, malformed("negative height").WithContext("height", pending.Height)
	}
	if miner.IsZero() {
		return nil, errors.New(errors.ErrorTypeConfig, "build_candidate", "miner identity is not set")
	}

	amount := pending.Reward
	for _, tx := range pending.Transactions {
		if tx.Reward {
			return nil, malformed("mempool contains a reward transaction")
		}
		amount += tx.Fee
	}

	txs := make([]Transaction, 0, len(pending.Transactions)+1)
	txs = append(txs, NewRewardTransaction(pending.Height, miner, amount))
	for _, tx := range pending.Transactions {
		raw := make([]byte, len(tx.Raw))
		copy(raw, tx.Raw)
		tx.Raw = raw
		txs = append(txs, tx)
	}

	ids := getHashSlice()
	defer putHashSlice(ids)
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}

	return &CandidateBlock{
		Version:      BlockVersion,
		Height:       pending.Height,
		PrevHash:     pending.PrevHash,
		MerkleRoot:   CalculateMerkleRoot(ids),
		Timestamp:    now.Unix(),
		Miner:        miner,
		Transactions: txs,
	}, nil
}

var hashSlicePool = sync.Pool{
	New: func() any {
		s := make([]chainhash.Hash, 0, 512)
		return &s
	},
}

func getHashSlice() []chainhash.Hash {
	return (*hashSlicePool.Get().(*[]chainhash.Hash))[:0]
}

func putHashSlice(s []chainhash.Hash) {
	if cap(s) < 10000 {
		hashSlicePool.Put(&s)
	}
}

// CalculateMerkleRoot computes the double-SHA256 merkle root of ids. An odd
// level duplicates its last hash.
func CalculateMerkleRoot(ids []chainhash.Hash) chainhash.Hash {
	switch len(ids) {
	case 0:
		return chainhash.Hash{}
	case 1:
		return ids[0]
	}

	level := make([]chainhash.Hash, len(ids))
	copy(level, ids)

	var concat [chainhash.HashSize * 2]byte
	for len(level) > 1 {
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}

			copy(concat[:chainhash.HashSize], left[:])
			copy(concat[chainhash.HashSize:], right[:])
			next = append(next, chainhash.DoubleHashH(concat[:]))
		}
		level = next
	}

	return level[0]
}
