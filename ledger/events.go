package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outbox topics.
const (
	TopicSaleRecorded      = "ledger.sale.recorded"
	TopicPurchaseRecorded  = "ledger.purchase.recorded"
	TopicSaleCancelled     = "ledger.sale.cancelled"
	TopicPurchaseCancelled = "ledger.purchase.cancelled"
)

// Event is an outbox row. It is written inside the same atomic unit as the
// entry it describes and delivered at least once by outbox.Relay.
type Event struct {
	ID          string
	TenantID    TenantID
	Topic       string
	Key         string // partition key: the document number
	Payload     []byte
	CreatedAt   time.Time
	Attempts    int
	LastError   string
	PublishedAt *time.Time
}

// EntryEvent is the JSON payload of every ledger topic.
type EntryEvent struct {
	EntryID        EntryID         `json:"entry_id"`
	TenantID       TenantID        `json:"tenant_id"`
	DocumentNumber string          `json:"document_number"`
	Kind           Kind            `json:"kind"`
	Direction      Direction       `json:"direction"`
	AccountID      AccountID       `json:"account_id"`
	AmountBase     decimal.Decimal `json:"amount_base"`
	ReversalOf     string          `json:"reversal_of,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func topicFor(k Kind) string {
	switch k {
	case KindSale:
		return TopicSaleRecorded
	case KindPurchase:
		return TopicPurchaseRecorded
	case KindSaleCancel:
		return TopicSaleCancelled
	default:
		return TopicPurchaseCancelled
	}
}

// newEntryEvent builds the outbox event announcing e.
func newEntryEvent(e Entry) (Event, error) {
	payload, err := json.Marshal(EntryEvent{
		EntryID:        e.ID,
		TenantID:       e.TenantID,
		DocumentNumber: e.DocumentNumber,
		Kind:           e.Kind,
		Direction:      e.Direction,
		AccountID:      e.AccountID,
		AmountBase:     e.AmountBase,
		ReversalOf:     e.ReversalOf,
		Reason:         e.Reason,
		CreatedBy:      e.CreatedBy,
		OccurredAt:     e.CreatedAt,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		TenantID:  e.TenantID,
		Topic:     topicFor(e.Kind),
		Key:       e.DocumentNumber,
		Payload:   payload,
		CreatedAt: e.CreatedAt,
	}, nil
}
