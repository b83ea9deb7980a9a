package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// merkleNode is a node in the audit tree; only leaves carry data.
type merkleNode struct {
	left  *merkleNode
	right *merkleNode
	hash  string
	data  string
}

// Ledger is a tamper-evident append-only log: every recorded audit outcome
// becomes a leaf and the root hash commits to the whole history.
type Ledger struct {
	mu     sync.Mutex
	leaves []*merkleNode
	root   *merkleNode
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func hashData(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Append adds an entry for a transaction outcome and returns the new root.
func (l *Ledger) Append(txID, status string, at time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := fmt.Sprintf("[%s] %s: %s", at.Format(time.RFC3339), txID, status)
	l.leaves = append(l.leaves, &merkleNode{hash: hashData(entry), data: entry})
	l.recalculateRoot()
	return l.root.hash
}

// recalculateRoot rebuilds the tree from the leaves. O(n), fine for the
// bounded in-memory trail store.
func (l *Ledger) recalculateRoot() {
	nodes := l.leaves
	for len(nodes) > 1 {
		var next []*merkleNode
		for i := 0; i < len(nodes); i += 2 {
			left := nodes[i]
			right := left // duplicate last leaf on odd count
			if i+1 < len(nodes) {
				right = nodes[i+1]
			}
			next = append(next, &merkleNode{
				left:  left,
				right: right,
				hash:  hashData(left.hash + right.hash),
			})
		}
		nodes = next
	}
	if len(nodes) == 1 {
		l.root = nodes[0]
	}
}

// RootHash returns the current root, or "" when the ledger is empty.
func (l *Ledger) RootHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.root == nil {
		return ""
	}
	return l.root.hash
}

// VerifyInclusion reports whether an entry with the given hash is a leaf.
func (l *Ledger) VerifyInclusion(hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, leaf := range l.leaves {
		if leaf.hash == hash {
			return true
		}
	}
	return false
}

// Size returns the number of entries.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leaves)
}
