package archive

import (
	"encoding/json"
	"strconv"
	"time"

	"p2plend/core/events"
)

// Event is one committed event as persisted by the archive.
type Event struct {
	ID         uint      `gorm:"primaryKey"`
	Sequence   uint64    `gorm:"index"`
	Type       string    `gorm:"index;not null"`
	OfferID    *uint64   `gorm:"index"`
	LoanID     *uint64   `gorm:"index"`
	Actor      string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	EmittedAt  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of the naming strategy.
func (Event) TableName() string { return "lending_events" }

// actorKeys are checked in order; the first present attribute is the actor.
var actorKeys = []string{"borrower", "lender", "liquidator", "admin", "owner", "from", "oracle"}

func fromRecord(rec events.Record) (Event, error) {
	attrs := rec.Event.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Event{}, err
	}
	out := Event{
		Sequence:   rec.Sequence,
		Type:       rec.Event.Type,
		OfferID:    parseID(attrs["offerId"]),
		LoanID:     parseID(attrs["loanId"]),
		Attributes: string(encoded),
		EmittedAt:  rec.Time.UTC(),
	}
	for _, key := range actorKeys {
		if v := attrs[key]; v != "" {
			out.Actor = v
			break
		}
	}
	return out, nil
}

func parseID(raw string) *uint64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Attrs decodes the stored attribute map.
func (e Event) Attrs() map[string]string {
	out := map[string]string{}
	_ = json.Unmarshal([]byte(e.Attributes), &out)
	return out
}
