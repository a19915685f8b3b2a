package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"p2plend/core"
	"p2plend/crypto"
	"p2plend/native/lending"
)

type methodKind int

const (
	// kindRead methods take plain params and never mutate state.
	kindRead methodKind = iota
	// kindSigned methods take an Envelope; the recovered signer is the caller.
	kindSigned
	// kindOperator methods require an operator bearer token and act as the
	// configured operator account.
	kindOperator
)

func (k methodKind) String() string {
	switch k {
	case kindSigned:
		return "signed"
	case kindOperator:
		return "operator"
	default:
		return "read"
	}
}

type handlerFunc func(ctx context.Context, caller crypto.Address, params json.RawMessage) (interface{}, error)

type method struct {
	kind methodKind
	call handlerFunc
}

// Amount is a base-unit integer carried as a decimal string or JSON number.
type Amount struct{ big.Int }

func (a *Amount) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		return fmt.Errorf("%w: amount required", ErrInvalidParams)
	}
	if _, ok := a.Int.SetString(text, 10); !ok {
		return fmt.Errorf("%w: invalid amount %q", ErrInvalidParams, text)
	}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) { return json.Marshal(a.Int.String()) }

// Value returns a copy of the amount, nil when unset.
func (a *Amount) Value() *big.Int {
	if a == nil {
		return nil
	}
	return new(big.Int).Set(&a.Int)
}

type offerIDParams struct {
	OfferID uint64 `json:"offerId"`
}

type loanIDParams struct {
	LoanID uint64 `json:"loanId"`
}

type loanAmountParams struct {
	LoanID uint64  `json:"loanId"`
	Amount *Amount `json:"amount"`
}

type createOfferParams struct {
	USDCAmount           *Amount `json:"usdcAmount"`
	WeeklyInterestRate   uint32  `json:"weeklyInterestRate"`
	MinCollateralRatio   uint32  `json:"minCollateralRatio"`
	LiquidationThreshold uint32  `json:"liquidationThreshold"`
	MaxDurationWeeks     uint32  `json:"maxDurationWeeks"`
}

type withdrawOfferParams struct {
	OfferID uint64  `json:"offerId"`
	Amount  *Amount `json:"amount"`
}

type borrowParams struct {
	OfferID          uint64  `json:"offerId"`
	CollateralAmount *Amount `json:"collateralAmount"`
	BorrowAmount     *Amount `json:"borrowAmount"`
}

type batchParams struct {
	LoanIDs []uint64 `json:"loanIds"`
}

type addressParams struct {
	Address crypto.Address `json:"address"`
}

type listOffersParams struct {
	Sort   string `json:"sort"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type rateParams struct {
	Rate uint32 `json:"rate"`
}

type oracleParams struct {
	Oracle crypto.Address `json:"oracle"`
}

type tokenTransferParams struct {
	Token  crypto.Address `json:"token"`
	To     crypto.Address `json:"to"`
	Amount *Amount        `json:"amount"`
}

type approveParams struct {
	Token   crypto.Address `json:"token"`
	Spender crypto.Address `json:"spender"`
	Amount  *Amount        `json:"amount"`
}

type balanceParams struct {
	Token   crypto.Address `json:"token"`
	Address crypto.Address `json:"address"`
}

type allowanceParams struct {
	Token   crypto.Address `json:"token"`
	Owner   crypto.Address `json:"owner"`
	Spender crypto.Address `json:"spender"`
}

type tokenParams struct {
	Token crypto.Address `json:"token"`
}

type setPriceParams struct {
	Oracle    crypto.Address `json:"oracle"`
	Asset     string         `json:"asset"`
	Price     *Amount        `json:"price"`
	Timestamp uint64         `json:"timestamp"`
}

type pricesParams struct {
	Oracle crypto.Address `json:"oracle"`
	Asset  string         `json:"asset"`
	Count  int            `json:"count"`
}

type modulePauseParams struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

// Result shapes.

type idResult struct {
	ID uint64 `json:"id"`
}

type idsResult struct {
	IDs []uint64 `json:"ids"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type boolResult struct {
	Value bool `json:"value"`
}

type addressResult struct {
	Address string `json:"address"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func decodeParams(raw json.RawMessage, dst interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, ErrInvalidParams) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func amountString(v *big.Int) amountResult {
	if v == nil {
		return amountResult{Amount: "0"}
	}
	return amountResult{Amount: v.String()}
}

func ids(v []uint64) idsResult {
	if v == nil {
		v = []uint64{}
	}
	return idsResult{IDs: v}
}

// read wraps a handler that ignores the caller.
func read[P any](fn func(ctx context.Context, p P) (interface{}, error)) method {
	return method{kind: kindRead, call: func(ctx context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}}
}

func signed[P any](fn func(ctx context.Context, caller crypto.Address, p P) (interface{}, error)) method {
	return method{kind: kindSigned, call: func(ctx context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, caller, p)
	}}
}

func operator[P any](fn func(ctx context.Context, caller crypto.Address, p P) (interface{}, error)) method {
	m := signed(fn)
	m.kind = kindOperator
	return m
}

type none struct{}

// buildMethods wires every method name to the node facade.
func buildMethods(node *core.Node, defaultOracle crypto.Address) map[string]method {
	oracleOr := func(addr crypto.Address) crypto.Address {
		if addr.IsZero() {
			return defaultOracle
		}
		return addr
	}
	return map[string]method{
		// Offers.
		"create_offer": signed(func(ctx context.Context, caller crypto.Address, p createOfferParams) (interface{}, error) {
			id, err := node.CreateOffer(ctx, caller, lending.CreateOfferParams{
				USDCAmount:           p.USDCAmount.Value(),
				WeeklyInterestRate:   p.WeeklyInterestRate,
				MinCollateralRatio:   p.MinCollateralRatio,
				LiquidationThreshold: p.LiquidationThreshold,
				MaxDurationWeeks:     p.MaxDurationWeeks,
			})
			return idResult{ID: id}, err
		}),
		"cancel_offer": signed(func(ctx context.Context, caller crypto.Address, p offerIDParams) (interface{}, error) {
			refund, err := node.CancelOffer(ctx, caller, p.OfferID)
			return amountString(refund), err
		}),
		"withdraw_from_offer": signed(func(ctx context.Context, caller crypto.Address, p withdrawOfferParams) (interface{}, error) {
			return okResult{OK: true}, node.WithdrawFromOffer(ctx, caller, p.OfferID, p.Amount.Value())
		}),
		"get_offer": read(func(ctx context.Context, p offerIDParams) (interface{}, error) {
			return node.GetOffer(ctx, p.OfferID)
		}),
		"get_user_offers": read(func(ctx context.Context, p addressParams) (interface{}, error) {
			out, err := node.GetUserOffers(ctx, p.Address)
			return ids(out), err
		}),
		"get_active_offers": read(func(ctx context.Context, _ none) (interface{}, error) {
			out, err := node.GetActiveOffers(ctx)
			return ids(out), err
		}),
		"list_offers": read(func(ctx context.Context, p listOffersParams) (interface{}, error) {
			order, err := lending.ParseSortOption(p.Sort)
			if err != nil {
				return nil, err
			}
			offers, err := node.ListOffers(ctx, order, p.Offset, p.Limit)
			if offers == nil {
				offers = []*lending.Offer{}
			}
			return offers, err
		}),

		// Loans.
		"borrow": signed(func(ctx context.Context, caller crypto.Address, p borrowParams) (interface{}, error) {
			id, err := node.Borrow(ctx, caller, p.OfferID, p.CollateralAmount.Value(), p.BorrowAmount.Value())
			return idResult{ID: id}, err
		}),
		"repay": signed(func(ctx context.Context, caller crypto.Address, p loanAmountParams) (interface{}, error) {
			return okResult{OK: true}, node.Repay(ctx, caller, p.LoanID, p.Amount.Value())
		}),
		"add_collateral": signed(func(ctx context.Context, caller crypto.Address, p loanAmountParams) (interface{}, error) {
			return okResult{OK: true}, node.AddCollateral(ctx, caller, p.LoanID, p.Amount.Value())
		}),
		"withdraw_collateral": signed(func(ctx context.Context, caller crypto.Address, p loanAmountParams) (interface{}, error) {
			return okResult{OK: true}, node.WithdrawCollateral(ctx, caller, p.LoanID, p.Amount.Value())
		}),
		"get_loan": read(func(ctx context.Context, p loanIDParams) (interface{}, error) {
			return node.GetLoan(ctx, p.LoanID)
		}),
		"get_loan_health": read(func(ctx context.Context, p loanIDParams) (interface{}, error) {
			return node.GetLoanHealth(ctx, p.LoanID)
		}),
		"calculate_interest": read(func(ctx context.Context, p loanIDParams) (interface{}, error) {
			interest, err := node.CalculateInterest(ctx, p.LoanID)
			return amountString(interest), err
		}),
		"get_user_loans_as_borrower": read(func(ctx context.Context, p addressParams) (interface{}, error) {
			out, err := node.GetUserLoansAsBorrower(ctx, p.Address)
			return ids(out), err
		}),
		"get_user_loans_as_lender": read(func(ctx context.Context, p addressParams) (interface{}, error) {
			out, err := node.GetUserLoansAsLender(ctx, p.Address)
			return ids(out), err
		}),
		"get_active_loans": read(func(ctx context.Context, _ none) (interface{}, error) {
			out, err := node.GetActiveLoans(ctx)
			return ids(out), err
		}),

		// Liquidation.
		"is_liquidatable": read(func(ctx context.Context, p loanIDParams) (interface{}, error) {
			ok, err := node.IsLiquidatable(ctx, p.LoanID)
			return boolResult{Value: ok}, err
		}),
		"liquidate": signed(func(ctx context.Context, caller crypto.Address, p loanIDParams) (interface{}, error) {
			return node.Liquidate(ctx, caller, p.LoanID)
		}),
		"batch_check_liquidations": read(func(ctx context.Context, p batchParams) (interface{}, error) {
			out, err := node.BatchCheckLiquidations(ctx, p.LoanIDs)
			return ids(out), err
		}),
		"get_xlm_price": read(func(ctx context.Context, _ none) (interface{}, error) {
			return node.GetXLMPrice(ctx)
		}),

		// Administration.
		"admin": read(func(ctx context.Context, _ none) (interface{}, error) {
			addr, err := node.Admin(ctx)
			return addressResult{Address: addr.String()}, err
		}),
		"get_config": read(func(ctx context.Context, _ none) (interface{}, error) {
			return node.Config(ctx)
		}),
		"is_paused": read(func(ctx context.Context, _ none) (interface{}, error) {
			paused, err := node.IsPaused(ctx)
			return boolResult{Value: paused}, err
		}),
		"set_max_interest_rate": signed(func(ctx context.Context, caller crypto.Address, p rateParams) (interface{}, error) {
			return okResult{OK: true}, node.SetMaxInterestRate(ctx, caller, p.Rate)
		}),
		"set_oracle_address": signed(func(ctx context.Context, caller crypto.Address, p oracleParams) (interface{}, error) {
			return okResult{OK: true}, node.SetOracleAddress(ctx, caller, p.Oracle)
		}),
		"pause_contract": signed(func(ctx context.Context, caller crypto.Address, _ none) (interface{}, error) {
			return okResult{OK: true}, node.PauseContract(ctx, caller)
		}),
		"unpause_contract": signed(func(ctx context.Context, caller crypto.Address, _ none) (interface{}, error) {
			return okResult{OK: true}, node.UnpauseContract(ctx, caller)
		}),

		// Tokens.
		"token_transfer": signed(func(ctx context.Context, caller crypto.Address, p tokenTransferParams) (interface{}, error) {
			return okResult{OK: true}, node.Transfer(ctx, caller, p.Token, p.To, p.Amount.Value())
		}),
		"token_approve": signed(func(ctx context.Context, caller crypto.Address, p approveParams) (interface{}, error) {
			return okResult{OK: true}, node.Approve(ctx, caller, p.Token, p.Spender, p.Amount.Value())
		}),
		"token_balance": read(func(ctx context.Context, p balanceParams) (interface{}, error) {
			bal, err := node.Balance(ctx, p.Token, p.Address)
			return amountString(bal), err
		}),
		"token_allowance": read(func(ctx context.Context, p allowanceParams) (interface{}, error) {
			amt, err := node.Allowance(ctx, p.Token, p.Owner, p.Spender)
			return amountString(amt), err
		}),
		"token_metadata": read(func(ctx context.Context, p tokenParams) (interface{}, error) {
			return node.TokenMetadata(ctx, p.Token)
		}),
		"token_mint": operator(func(ctx context.Context, caller crypto.Address, p tokenTransferParams) (interface{}, error) {
			return okResult{OK: true}, node.Mint(ctx, caller, p.Token, p.To, p.Amount.Value())
		}),

		// Oracle.
		"oracle_set_price": operator(func(ctx context.Context, caller crypto.Address, p setPriceParams) (interface{}, error) {
			return okResult{OK: true}, node.SetPrice(ctx, caller, oracleOr(p.Oracle), p.Asset, p.Price.Value(), p.Timestamp)
		}),
		"oracle_prices": read(func(ctx context.Context, p pricesParams) (interface{}, error) {
			out, err := node.Prices(ctx, oracleOr(p.Oracle), p.Asset, p.Count)
			if out == nil {
				out = []lending.PriceData{}
			}
			return out, err
		}),

		// Operations.
		"set_module_paused": operator(func(_ context.Context, _ crypto.Address, p modulePauseParams) (interface{}, error) {
			module := strings.TrimSpace(p.Module)
			if module == "" {
				return nil, fmt.Errorf("%w: module required", ErrInvalidParams)
			}
			node.SetModulePaused(module, p.Paused)
			return okResult{OK: true}, nil
		}),
	}
}

// MethodNames lists every exposed method with its JSON-RPC prefix.
func MethodNames(methods map[string]method) []string {
	out := make([]string, 0, len(methods))
	for name := range methods {
		out = append(out, MethodPrefix+name)
	}
	sort.Strings(out)
	return out
}

// MethodKinds maps every prefixed method name to its kind ("read", "signed"
// or "operator") without needing a running node.
func MethodKinds() map[string]string {
	out := make(map[string]string)
	for name, m := range buildMethods(nil, crypto.Address{}) {
		out[MethodPrefix+name] = m.kind.String()
	}
	return out
}
