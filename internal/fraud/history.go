package fraud

import (
	"strings"

	"github.com/dvloznov/securepath/internal/domain"
)

// SliceHistory is a HistoryView over an in-memory list of transactions.
type SliceHistory []domain.Transaction

// SharedIPCount implements HistoryView.
func (h SliceHistory) SharedIPCount(tx domain.Transaction) int {
	ip := strings.TrimSpace(tx.IPAddress)
	if ip == "" {
		return 0
	}
	n := 0
	for _, other := range h {
		if isSelf(tx, other) {
			continue
		}
		if strings.TrimSpace(other.IPAddress) == ip {
			n++
		}
	}
	return n
}

// IPSeenForPrincipal implements HistoryView.
func (h SliceHistory) IPSeenForPrincipal(tx domain.Transaction) bool {
	ip := strings.TrimSpace(tx.IPAddress)
	if ip == "" {
		return false
	}
	for _, other := range h {
		if isSelf(tx, other) {
			continue
		}
		if other.UserID == tx.UserID && strings.TrimSpace(other.IPAddress) == ip {
			return true
		}
	}
	return false
}

func isSelf(tx, other domain.Transaction) bool {
	if tx.ID != 0 {
		return other.ID == tx.ID
	}
	return other.TransactionID != "" && other.TransactionID == tx.TransactionID && other.UserID == tx.UserID
}

// IPCounts holds stored occurrence counts per IP address.
type IPCounts struct {
	// Global counts every stored transaction per IP.
	Global map[string]int
	// ByPrincipal counts stored transactions per principal and IP.
	ByPrincipal map[string]map[string]int
}

// Snapshot is a HistoryView backed by counts loaded from the store. Counts
// include the scored transactions themselves when they are persisted, so
// persisted transactions subtract their own occurrence.
type Snapshot struct {
	counts IPCounts
}

// NewSnapshot creates a Snapshot from precomputed counts.
func NewSnapshot(counts IPCounts) *Snapshot {
	if counts.Global == nil {
		counts.Global = map[string]int{}
	}
	if counts.ByPrincipal == nil {
		counts.ByPrincipal = map[string]map[string]int{}
	}
	return &Snapshot{counts: counts}
}

// SharedIPCount implements HistoryView.
func (s *Snapshot) SharedIPCount(tx domain.Transaction) int {
	ip := strings.TrimSpace(tx.IPAddress)
	if ip == "" {
		return 0
	}
	return withoutSelf(s.counts.Global[ip], tx)
}

// IPSeenForPrincipal implements HistoryView.
func (s *Snapshot) IPSeenForPrincipal(tx domain.Transaction) bool {
	ip := strings.TrimSpace(tx.IPAddress)
	if ip == "" {
		return false
	}
	return withoutSelf(s.counts.ByPrincipal[tx.UserID][ip], tx) > 0
}

func withoutSelf(n int, tx domain.Transaction) int {
	if tx.ID != 0 && n > 0 {
		n--
	}
	return n
}

var (
	_ HistoryView = SliceHistory(nil)
	_ HistoryView = (*Snapshot)(nil)
)
