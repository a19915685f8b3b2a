package lending

import (
	"context"
	"math/big"
	"sort"

	"p2plend/crypto"
)

// CreateOfferParams are the lender-chosen terms of a new offer.
type CreateOfferParams struct {
	USDCAmount           *big.Int
	WeeklyInterestRate   uint32
	MinCollateralRatio   uint32
	LiquidationThreshold uint32
	MaxDurationWeeks     uint32
}

// CreateOffer escrows the lender's USDC into a new offer and returns its id.
func (e *Engine) CreateOffer(ctx context.Context, lender crypto.Address, p CreateOfferParams) (id uint64, err error) {
	s, release, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer release(&err)

	if lender.IsZero() {
		return 0, ErrInvalidInput
	}
	if err := validateAmount(p.USDCAmount, ErrInvalidOfferAmount); err != nil {
		return 0, err
	}
	maxRate, err := e.maxInterestRate(s)
	if err != nil {
		return 0, err
	}
	if err := validateInterestRate(p.WeeklyInterestRate, maxRate); err != nil {
		return 0, err
	}
	if err := e.params.validateCollateralRatio(p.MinCollateralRatio); err != nil {
		return 0, err
	}
	if err := e.params.validateLiquidationThreshold(p.LiquidationThreshold, p.MinCollateralRatio); err != nil {
		return 0, err
	}
	if err := e.params.validateDuration(p.MaxDurationWeeks); err != nil {
		return 0, err
	}
	active, err := e.activeOfferCount(s, lender)
	if err != nil {
		return 0, err
	}
	if active >= e.params.MaxOffersPerUser {
		return 0, ErrTooManyOffers
	}
	usdc, err := e.usdcToken(s)
	if err != nil {
		return 0, err
	}

	id, err = s.nextID(nextOfferIDKey())
	if err != nil {
		return 0, err
	}
	offer := &Offer{
		OfferID:              id,
		Lender:               lender,
		USDCAmount:           new(big.Int).Set(p.USDCAmount),
		RemainingAmount:      new(big.Int).Set(p.USDCAmount),
		WeeklyInterestRate:   p.WeeklyInterestRate,
		MinCollateralRatio:   p.MinCollateralRatio,
		LiquidationThreshold: p.LiquidationThreshold,
		MaxDurationWeeks:     p.MaxDurationWeeks,
		IsActive:             true,
		CreatedAt:            e.now(),
	}
	if err := s.putOffer(offer); err != nil {
		return 0, err
	}
	if err := s.addID(userOffersKey(lender), id); err != nil {
		return 0, err
	}
	if err := s.addID(activeOffersKey(), id); err != nil {
		return 0, err
	}
	if err := e.pull(ctx, usdc, lender, offer.USDCAmount); err != nil {
		return 0, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	return id, nil
}

// CancelOffer deactivates an offer with no active loans and refunds its
// remaining balance, which is returned.
func (e *Engine) CancelOffer(ctx context.Context, lender crypto.Address, offerID uint64) (refund *big.Int, err error) {
	s, release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release(&err)

	offer, err := s.offer(offerID)
	if err != nil {
		return nil, err
	}
	if !offer.Lender.Equal(lender) {
		return nil, ErrOnlyLender
	}
	if !offer.IsActive {
		return nil, ErrOfferNotActive
	}
	busy, err := e.offerHasActiveLoans(s, offer)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrOfferHasActiveLoans
	}
	usdc, err := e.usdcToken(s)
	if err != nil {
		return nil, err
	}

	refund = cloneAmount(offer.RemainingAmount)
	offer.RemainingAmount = big.NewInt(0)
	offer.IsActive = false
	if err := s.putOffer(offer); err != nil {
		return nil, err
	}
	if err := s.removeID(activeOffersKey(), offerID); err != nil {
		return nil, err
	}
	if refund.Sign() > 0 {
		if err := e.pay(ctx, usdc, lender, refund); err != nil {
			return nil, err
		}
	}
	e.emit(NewOfferCancelledEvent(offer, refund))
	return refund, nil
}

// WithdrawFromOffer returns part of an offer's idle balance to the lender.
// The offer stays active.
func (e *Engine) WithdrawFromOffer(ctx context.Context, lender crypto.Address, offerID uint64, amount *big.Int) (err error) {
	s, release, err := e.enter()
	if err != nil {
		return err
	}
	defer release(&err)

	offer, err := s.offer(offerID)
	if err != nil {
		return err
	}
	if !offer.Lender.Equal(lender) {
		return ErrOnlyLender
	}
	if !offer.IsActive {
		return ErrOfferNotActive
	}
	if err := validateAmount(amount, ErrInvalidInput); err != nil {
		return err
	}
	if amount.Cmp(offer.RemainingAmount) > 0 {
		return ErrInsufficientOfferFunds
	}
	usdc, err := e.usdcToken(s)
	if err != nil {
		return err
	}

	remaining, err := Sub(offer.RemainingAmount, amount)
	if err != nil {
		return err
	}
	offer.RemainingAmount = remaining
	if err := s.putOffer(offer); err != nil {
		return err
	}
	if err := e.pay(ctx, usdc, lender, amount); err != nil {
		return err
	}
	e.emit(NewOfferWithdrawnEvent(offer, amount))
	return nil
}

// GetOffer returns the offer record, active or not.
func (e *Engine) GetOffer(ctx context.Context, offerID uint64) (*Offer, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	return s.offer(offerID)
}

// GetUserOffers lists every offer id ever created by lender.
func (e *Engine) GetUserOffers(ctx context.Context, lender crypto.Address) ([]uint64, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	return s.ids(userOffersKey(lender))
}

// GetActiveOffers lists the ids of offers that are still active.
func (e *Engine) GetActiveOffers(ctx context.Context) ([]uint64, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	return s.ids(activeOffersKey())
}

// ListOffers returns a page of active offers in the requested order.
func (e *Engine) ListOffers(ctx context.Context, order SortOption, offset, limit int) ([]*Offer, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	switch order {
	case SortBestRate, SortHighestAmount, SortNewest:
	default:
		return nil, ErrInvalidSortOption
	}
	if err := e.params.validatePagination(offset, limit); err != nil {
		return nil, err
	}
	ids, err := s.ids(activeOffersKey())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoOffersAvailable
	}
	offers := make([]*Offer, 0, len(ids))
	for _, id := range ids {
		offer, err := s.offer(id)
		if err != nil {
			return nil, err
		}
		if offer.IsActive {
			offers = append(offers, offer)
		}
	}
	sortOffers(offers, order)
	if offset >= len(offers) {
		return []*Offer{}, nil
	}
	end := offset + limit
	if end > len(offers) {
		end = len(offers)
	}
	return offers[offset:end], nil
}

func sortOffers(offers []*Offer, order SortOption) {
	sort.SliceStable(offers, func(i, j int) bool {
		a, b := offers[i], offers[j]
		switch order {
		case SortHighestAmount:
			if cmp := a.RemainingAmount.Cmp(b.RemainingAmount); cmp != 0 {
				return cmp > 0
			}
			return a.OfferID < b.OfferID
		case SortNewest:
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt > b.CreatedAt
			}
			return a.OfferID > b.OfferID
		default:
			if a.WeeklyInterestRate != b.WeeklyInterestRate {
				return a.WeeklyInterestRate < b.WeeklyInterestRate
			}
			return a.OfferID < b.OfferID
		}
	})
}

func (e *Engine) activeOfferCount(s store, lender crypto.Address) (int, error) {
	ids, err := s.ids(userOffersKey(lender))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		offer, err := s.offer(id)
		if err != nil {
			return 0, err
		}
		if offer.IsActive {
			count++
		}
	}
	return count, nil
}

// offerHasActiveLoans scans the lender's loans for an active one drawn from
// offer.
func (e *Engine) offerHasActiveLoans(s store, offer *Offer) (bool, error) {
	ids, err := s.ids(userLoansAsLenderKey(offer.Lender))
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		loan, err := s.loan(id)
		if err != nil {
			return false, err
		}
		if loan.OfferID == offer.OfferID && loan.IsActive {
			return true, nil
		}
	}
	return false, nil
}
