package lending

import (
	"fmt"
	"math/big"

	"p2plend/crypto"
)

// engineState is the persistence surface the engine needs from its host. The
// host owns encoding; values passed in are plain structs made of exported
// byte slices, unsigned integers, bools and non-negative big integers.
type engineState interface {
	LendingGet(key DataKey, out interface{}) (bool, error)
	LendingPut(key DataKey, value interface{}) error
	LendingDelete(key DataKey) error
}

type addressRecord struct {
	Prefix string
	Bytes  []byte
}

func newAddressRecord(addr crypto.Address) addressRecord {
	return addressRecord{Prefix: string(addr.Prefix()), Bytes: append([]byte(nil), addr.Bytes()...)}
}

func (r addressRecord) address() crypto.Address {
	if len(r.Bytes) != crypto.AddressLength {
		return crypto.Address{}
	}
	prefix := crypto.AddressPrefix(r.Prefix)
	if prefix == "" {
		prefix = crypto.LendPrefix
	}
	return crypto.NewAddress(prefix, r.Bytes)
}

type offerRecord struct {
	OfferID              uint64
	Lender               addressRecord
	USDCAmount           *big.Int
	RemainingAmount      *big.Int
	WeeklyInterestRate   uint32
	MinCollateralRatio   uint32
	LiquidationThreshold uint32
	MaxDurationWeeks     uint32
	IsActive             bool
	CreatedAt            uint64
}

func newOfferRecord(o *Offer) *offerRecord {
	return &offerRecord{
		OfferID:              o.OfferID,
		Lender:               newAddressRecord(o.Lender),
		USDCAmount:           cloneAmount(o.USDCAmount),
		RemainingAmount:      cloneAmount(o.RemainingAmount),
		WeeklyInterestRate:   o.WeeklyInterestRate,
		MinCollateralRatio:   o.MinCollateralRatio,
		LiquidationThreshold: o.LiquidationThreshold,
		MaxDurationWeeks:     o.MaxDurationWeeks,
		IsActive:             o.IsActive,
		CreatedAt:            o.CreatedAt,
	}
}

func (r *offerRecord) offer() *Offer {
	return &Offer{
		OfferID:              r.OfferID,
		Lender:               r.Lender.address(),
		USDCAmount:           cloneAmount(r.USDCAmount),
		RemainingAmount:      cloneAmount(r.RemainingAmount),
		WeeklyInterestRate:   r.WeeklyInterestRate,
		MinCollateralRatio:   r.MinCollateralRatio,
		LiquidationThreshold: r.LiquidationThreshold,
		MaxDurationWeeks:     r.MaxDurationWeeks,
		IsActive:             r.IsActive,
		CreatedAt:            r.CreatedAt,
	}
}

type loanRecord struct {
	LoanID               uint64
	OfferID              uint64
	Borrower             addressRecord
	Lender               addressRecord
	Collateral           *big.Int
	BorrowedAmount       *big.Int
	PrincipalRepaid      *big.Int
	AccumulatedInterest  *big.Int
	InterestRate         uint32
	LiquidationThreshold uint32
	StartTime            uint64
	LastInterestUpdate   uint64
	IsActive             bool
	LiquidatedAt         uint64
}

func newLoanRecord(l *Loan) *loanRecord {
	return &loanRecord{
		LoanID:               l.LoanID,
		OfferID:              l.OfferID,
		Borrower:             newAddressRecord(l.Borrower),
		Lender:               newAddressRecord(l.Lender),
		Collateral:           cloneAmount(l.Collateral),
		BorrowedAmount:       cloneAmount(l.BorrowedAmount),
		PrincipalRepaid:      cloneAmount(l.PrincipalRepaid),
		AccumulatedInterest:  cloneAmount(l.AccumulatedInterest),
		InterestRate:         l.InterestRate,
		LiquidationThreshold: l.LiquidationThreshold,
		StartTime:            l.StartTime,
		LastInterestUpdate:   l.LastInterestUpdate,
		IsActive:             l.IsActive,
		LiquidatedAt:         l.LiquidatedAt,
	}
}

func (r *loanRecord) loan() *Loan {
	return &Loan{
		LoanID:               r.LoanID,
		OfferID:              r.OfferID,
		Borrower:             r.Borrower.address(),
		Lender:               r.Lender.address(),
		Collateral:           cloneAmount(r.Collateral),
		BorrowedAmount:       cloneAmount(r.BorrowedAmount),
		PrincipalRepaid:      cloneAmount(r.PrincipalRepaid),
		AccumulatedInterest:  cloneAmount(r.AccumulatedInterest),
		InterestRate:         r.InterestRate,
		LiquidationThreshold: r.LiquidationThreshold,
		StartTime:            r.StartTime,
		LastInterestUpdate:   r.LastInterestUpdate,
		IsActive:             r.IsActive,
		LiquidatedAt:         r.LiquidatedAt,
	}
}

type idSet struct {
	IDs []uint64
}

// store wraps engineState with typed accessors. Storage failures are wrapped
// and returned as-is; business errors come from the callers.
type store struct {
	state engineState
}

func (s store) get(key DataKey, out interface{}) (bool, error) {
	ok, err := s.state.LendingGet(key, out)
	if err != nil {
		return false, fmt.Errorf("lending engine: load %s: %w", key, err)
	}
	return ok, nil
}

func (s store) put(key DataKey, value interface{}) error {
	if err := s.state.LendingPut(key, value); err != nil {
		return fmt.Errorf("lending engine: store %s: %w", key, err)
	}
	return nil
}

func (s store) address(key DataKey) (crypto.Address, bool, error) {
	var rec addressRecord
	ok, err := s.get(key, &rec)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	addr := rec.address()
	return addr, !addr.IsZero(), nil
}

func (s store) putAddress(key DataKey, addr crypto.Address) error {
	return s.put(key, newAddressRecord(addr))
}

func (s store) uint64Value(key DataKey) (uint64, bool, error) {
	var v uint64
	ok, err := s.get(key, &v)
	return v, ok, err
}

func (s store) boolValue(key DataKey) (bool, error) {
	var v bool
	_, err := s.get(key, &v)
	return v, err
}

// setFlag stores true or removes the key so a cleared flag leaves no residue.
func (s store) setFlag(key DataKey, on bool) error {
	if on {
		return s.put(key, true)
	}
	if err := s.state.LendingDelete(key); err != nil {
		return fmt.Errorf("lending engine: clear %s: %w", key, err)
	}
	return nil
}

// nextID returns the next identifier for the counter under key and advances
// it. Identifiers start at 1.
func (s store) nextID(key DataKey) (uint64, error) {
	next, ok, err := s.uint64Value(key)
	if err != nil {
		return 0, err
	}
	if !ok || next == 0 {
		next = 1
	}
	if err := s.put(key, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

func (s store) offer(id uint64) (*Offer, error) {
	var rec offerRecord
	ok, err := s.get(offerKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferNotFound
	}
	return rec.offer(), nil
}

func (s store) putOffer(o *Offer) error {
	return s.put(offerKey(o.OfferID), newOfferRecord(o))
}

func (s store) loan(id uint64) (*Loan, error) {
	var rec loanRecord
	ok, err := s.get(loanKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return rec.loan(), nil
}

func (s store) putLoan(l *Loan) error {
	return s.put(loanKey(l.LoanID), newLoanRecord(l))
}

func (s store) ids(key DataKey) ([]uint64, error) {
	var set idSet
	if _, err := s.get(key, &set); err != nil {
		return nil, err
	}
	if set.IDs == nil {
		return []uint64{}, nil
	}
	return set.IDs, nil
}

func (s store) addID(key DataKey, id uint64) error {
	current, err := s.ids(key)
	if err != nil {
		return err
	}
	for _, existing := range current {
		if existing == id {
			return nil
		}
	}
	return s.put(key, &idSet{IDs: append(current, id)})
}

func (s store) removeID(key DataKey, id uint64) error {
	current, err := s.ids(key)
	if err != nil {
		return err
	}
	filtered := current[:0]
	removed := false
	for _, existing := range current {
		if existing == id {
			removed = true
			continue
		}
		filtered = append(filtered, existing)
	}
	if !removed {
		return nil
	}
	return s.put(key, &idSet{IDs: filtered})
}
