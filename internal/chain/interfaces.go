package chain

import (
	"context"

	"github.com/bardlex/snapminer/internal/pow"
)

// NodeInterface is everything the miner needs from the node. It allows the
// work refresher and the submission gate to be tested without a node.
type NodeInterface interface {
	// FetchPendingWork returns the inputs for the next candidate block.
	FetchPendingWork(ctx context.Context) (PendingSet, error)

	// FetchRawDifficulty returns the node's current base target.
	FetchRawDifficulty(ctx context.Context) (pow.RawDifficulty, error)

	// SubmitBlock hands a solved block to the node. Errors are transport
	// failures; rejections are reported in the result.
	SubmitBlock(ctx context.Context, block *CandidateBlock) (SubmitResult, error)

	Ping(ctx context.Context) error

	Close()
}

var _ NodeInterface = (*RPCClient)(nil)
