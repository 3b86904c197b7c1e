// Package notify turns the node's ZMQ new-block announcements into refresh
// triggers, so a new chain tip reaches the workers before the next tick.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/snapminer/pkg/log"
)

// TopicHashBlock carries the hash of every block the node connects.
const TopicHashBlock = "hashblock"

// Notifier subscribes to the node's block announcements.
type Notifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
	trigger  chan struct{}
	pollWait time.Duration

	received atomic.Uint64
	last     atomic.Pointer[chainhash.Hash]
}

// NewNotifier creates a SUB socket for endpoint. Nothing connects until Run.
func NewNotifier(endpoint string, logger *log.Logger) (*Notifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &Notifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("notify"),
		trigger:  make(chan struct{}, 1),
		pollWait: 500 * time.Millisecond,
	}, nil
}

// Trigger fires at most once per burst of announcements.
func (n *Notifier) Trigger() <-chan struct{} {
	return n.trigger
}

// Run subscribes, connects and listens until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	if err := n.socket.SetSubscribe(TopicHashBlock); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", TopicHashBlock, err)
	}
	if err := n.socket.SetRcvtimeo(n.pollWait); err != nil {
		return fmt.Errorf("failed to set ZMQ receive timeout: %w", err)
	}
	if err := n.socket.Connect(n.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", n.endpoint, err)
	}
	n.logger.Info("listening for new blocks", "endpoint", n.endpoint, "topic", TopicHashBlock)

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := n.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			n.logger.WithError(err).Error("failed to receive ZMQ message")
			continue
		}

		if len(msg) < 2 {
			n.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		if err := n.HandleMessage(string(msg[0]), msg[1]); err != nil {
			n.logger.WithError(err).Warn("failed to handle ZMQ message", "topic", string(msg[0]))
		}
	}
}

// HandleMessage records a block announcement and fires the trigger without
// blocking. A trigger that is already pending absorbs the new one.
func (n *Notifier) HandleMessage(topic string, data []byte) error {
	if topic != TopicHashBlock {
		n.logger.Debug("ignoring ZMQ topic", "topic", topic)
		return nil
	}

	hash, err := chainhash.NewHash(data)
	if err != nil {
		return fmt.Errorf("invalid block hash length: %d", len(data))
	}

	n.received.Add(1)
	n.last.Store(hash)
	n.logger.Info("new block notification", "hash", hash.String())

	select {
	case n.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Received returns how many block announcements arrived.
func (n *Notifier) Received() uint64 {
	return n.received.Load()
}

// LastBlock returns the most recently announced block hash, or nil.
func (n *Notifier) LastBlock() *chainhash.Hash {
	return n.last.Load()
}

// Close closes the socket.
func (n *Notifier) Close() error {
	if n.socket != nil {
		return n.socket.Close()
	}
	return nil
}
