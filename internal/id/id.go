// Package id generates unique, roughly time-ordered item identifiers using
// a Snowflake-style layout, kept from chinweokwu-MQueue's id.go: the layout
// (41-bit timestamp, 10-bit node, 12-bit sequence) needs no change to serve
// as an Item.ID source instead of a message ID source.
package id

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMax         = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// Node issues Item.ID values for one dispatcher worker or process.
type Node struct {
	mu        sync.Mutex
	timestamp int64
	nodeID    int64
	step      int64
}

// NewNode creates a Snowflake node. nodeID should be unique per running
// process (e.g. derived from WorkerID in config).
func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > nodeMax {
		return nil, errors.New("node ID too large")
	}
	return &Node{
		timestamp: 0,
		nodeID:    nodeID,
		step:      0,
	}, nil
}

// Generate creates a unique ID
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < n.timestamp {
		// Clock regressed: keep issuing from the last timestamp so IDs stay
		// unique and increasing.
		now = n.timestamp
	}

	if now == n.timestamp {
		n.step = (n.step + 1) & stepMax
		if n.step == 0 {
			// Sequence exhausted for this millisecond, wait for next
			for now <= n.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.timestamp = now

	return ((now - epoch) << timeShift) | (n.nodeID << nodeShift) | n.step
}

// GenerateString returns Generate's value formatted for Item.ID.
func (n *Node) GenerateString() string {
	return strconv.FormatInt(n.Generate(), 10)
}
