package events

import (
	"math/big"
	"strings"

	"p2plend/core/types"
	"p2plend/crypto"
)

const (
	// TypeTokenTransfer is emitted for every balance movement on the reference ledger.
	TypeTokenTransfer = "token.transfer"
	// TypeTokenMint is emitted when the minter credits new supply.
	TypeTokenMint = "token.mint"
	// TypeTokenApproval is emitted when an owner sets a spender allowance.
	TypeTokenApproval = "token.approval"
)

type TokenTransfer struct {
	Token   crypto.Address
	Symbol  string
	From    crypto.Address
	To      crypto.Address
	Spender crypto.Address
	Amount  *big.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	attrs := tokenAttrs(e.Token, e.Symbol)
	attrs["from"] = e.From.String()
	attrs["to"] = e.To.String()
	attrs["amount"] = formatAmount(e.Amount)
	if !e.Spender.IsZero() {
		attrs["spender"] = e.Spender.String()
	}
	return &types.Event{Type: TypeTokenTransfer, Attributes: attrs}
}

type TokenMint struct {
	Token  crypto.Address
	Symbol string
	To     crypto.Address
	Amount *big.Int
	Supply *big.Int
}

func (TokenMint) EventType() string { return TypeTokenMint }

func (e TokenMint) Event() *types.Event {
	attrs := tokenAttrs(e.Token, e.Symbol)
	attrs["to"] = e.To.String()
	attrs["amount"] = formatAmount(e.Amount)
	attrs["supply"] = formatAmount(e.Supply)
	return &types.Event{Type: TypeTokenMint, Attributes: attrs}
}

type TokenApproval struct {
	Token   crypto.Address
	Symbol  string
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *big.Int
}

func (TokenApproval) EventType() string { return TypeTokenApproval }

func (e TokenApproval) Event() *types.Event {
	attrs := tokenAttrs(e.Token, e.Symbol)
	attrs["owner"] = e.Owner.String()
	attrs["spender"] = e.Spender.String()
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTokenApproval, Attributes: attrs}
}

func tokenAttrs(token crypto.Address, symbol string) map[string]string {
	attrs := map[string]string{"token": token.String()}
	if sym := normalizeAsset(symbol); sym != "" {
		attrs["symbol"] = sym
	}
	return attrs
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}
