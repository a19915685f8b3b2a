package events

import (
	"math/big"
	"strconv"

	"p2plend/core/types"
	"p2plend/crypto"
)

// TypePricePushed is emitted when the feed operator records a new price.
const TypePricePushed = "oracle.price"

type PricePushed struct {
	Oracle    crypto.Address
	Asset     string
	Price     *big.Int
	Timestamp uint64
}

func (PricePushed) EventType() string { return TypePricePushed }

func (e PricePushed) Event() *types.Event {
	return &types.Event{Type: TypePricePushed, Attributes: map[string]string{
		"oracle":    e.Oracle.String(),
		"asset":     normalizeAsset(e.Asset),
		"price":     formatAmount(e.Price),
		"timestamp": strconv.FormatUint(e.Timestamp, 10),
	}}
}
