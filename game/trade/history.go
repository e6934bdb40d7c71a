package trade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hoshinoume/terravale/server/cache"
	"go.uber.org/zap"
)

// HistoryEntry is one settled or cancelled trade as rendered in a
// counterparty's history list.
type HistoryEntry struct {
	ProposalID    string    `json:"proposal_id"`
	Proposer      string    `json:"proposer"`
	Counterparty  string    `json:"counterparty"`
	OfferedItems  []string  `json:"offered_items"`
	ReceivedItems []string  `json:"received_items"`
	Status        string    `json:"status"`
	At            time.Time `json:"at"`
}

// History appends trade outcomes per counterparty key, capped so the oldest
// entries fall off.
type History struct {
	cache  cache.Cache
	cap    int64
	logger *zap.Logger
}

// NewHistory creates a History capped at capPerKey entries (50 if <= 0).
func NewHistory(c cache.Cache, capPerKey int, logger *zap.Logger) *History {
	if capPerKey <= 0 {
		capPerKey = 50
	}
	return &History{cache: c, cap: int64(capPerKey), logger: logger}
}

func historyKey(counterparty string) string { return "history:" + counterparty }

// Append records entry under the counterparty key, evicting the oldest
// entry beyond the cap. Failures are logged, not returned: history is
// best-effort and must never mask a settlement result.
func (h *History) Append(ctx context.Context, entry HistoryEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		h.logger.Warn("history encode failed", zap.Error(err))
		return
	}
	key := historyKey(entry.Counterparty)
	if err := h.cache.LPush(ctx, key, string(raw)); err != nil {
		h.logger.Warn("history append failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := h.cache.LTrim(ctx, key, 0, h.cap-1); err != nil {
		h.logger.Warn("history trim failed", zap.String("key", key), zap.Error(err))
	}
}

// For returns the newest-first history for a counterparty.
func (h *History) For(ctx context.Context, counterparty string) ([]HistoryEntry, error) {
	raws, err := h.cache.LRange(ctx, historyKey(counterparty), 0, h.cap-1)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
