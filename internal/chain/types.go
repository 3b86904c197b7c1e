package chain

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/snapminer/pkg/errors"
)

// Node JSON-RPC method names.
const (
	MethodGetMempool         = "getmempool"
	MethodGetChainTip        = "getchaintip"
	MethodGetBlockDifficulty = "getblockdifficulty"
	MethodSubmitBlock        = "submitblock"
	MethodPing               = "ping"
)

// MempoolTx is one entry of the getmempool result.
type MempoolTx struct {
	TxID string `json:"txid"`
	Hex  string `json:"hex"`
	Fee  int64  `json:"fee"`
}

// ChainTip is the getchaintip result.
type ChainTip struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
	Reward int64  `json:"reward"`
}

// SubmitResult is the node's verdict on a submitted block.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// toTransaction decodes a mempool entry. A missing txid is derived from the raw bytes.
func (m MempoolTx) toTransaction() (Transaction, error) {
	raw, err := hex.DecodeString(m.Hex)
	if err != nil || len(raw) == 0 {
		return Transaction{}, errors.New(errors.ErrorTypeValidation, "decode_mempool", "transaction hex is invalid").
			WithContext("txid", m.TxID)
	}

	id := chainhash.DoubleHashH(raw)
	if m.TxID != "" {
		parsed, err := chainhash.NewHashFromStr(m.TxID)
		if err != nil {
			return Transaction{}, errors.Wrap(err, errors.ErrorTypeValidation, "decode_mempool", "transaction id is invalid").
				WithContext("txid", m.TxID)
		}
		id = *parsed
	}

	return Transaction{ID: id, Raw: raw, Fee: m.Fee}, nil
}

// toPending turns the tip and mempool into the next block's pending set.
func (t ChainTip) toPending(mempool []MempoolTx) (PendingSet, error) {
	prev := GenesisPrevHash
	if t.Hash != "" {
		parsed, err := chainhash.NewHashFromStr(t.Hash)
		if err != nil {
			return PendingSet{}, errors.Wrap(err, errors.ErrorTypeValidation, "decode_chain_tip", "tip hash is invalid").
				WithContext("hash", t.Hash)
		}
		prev = *parsed
	}

	txs := make([]Transaction, 0, len(mempool))
	for _, m := range mempool {
		tx, err := m.toTransaction()
		if err != nil {
			return PendingSet{}, err
		}
		txs = append(txs, tx)
	}

	return PendingSet{
		Height:       t.Height + 1,
		PrevHash:     prev,
		Reward:       t.Reward,
		Transactions: txs,
	}, nil
}
