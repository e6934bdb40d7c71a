package model

import (
	"time"

	"gorm.io/datatypes"
)

// Trade record statuses.
const (
	TradeCompleted = "completed"
	TradeCancelled = "cancelled"
)

// TradeRecord is one settled or cancelled trade attempt, persisted for the
// activity surface. Counterparty is either an NPC catalog name or a player
// wallet address.
type TradeRecord struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ProposalID    string         `gorm:"index:idx_trade_proposal;size:36" json:"proposal_id"`
	Proposer      string         `gorm:"index:idx_trade_proposer;size:66;not null" json:"proposer"`
	Counterparty  string         `gorm:"index:idx_trade_counterparty;size:66;not null" json:"counterparty"`
	OfferedItems  datatypes.JSON `json:"offered_items"`  // []string asset ids
	ReceivedItems datatypes.JSON `json:"received_items"` // []string asset ids
	OfferedValue  int            `json:"offered_value"`
	ReceivedValue int            `json:"received_value"`
	Status        string         `gorm:"size:16;not null" json:"status"`
	FlowID        string         `gorm:"size:36" json:"flow_id"`
	CreatedAt     time.Time      `gorm:"index:idx_trade_created;autoCreateTime" json:"created_at"`
}
