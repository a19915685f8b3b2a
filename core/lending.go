package core

import (
	"context"
	"math/big"

	"p2plend/crypto"
	"p2plend/native/lending"
)

// CreateOffer escrows the lender's USDC into a new offer and returns its id.
func (n *Node) CreateOffer(ctx context.Context, lender crypto.Address, p lending.CreateOfferParams) (id uint64, err error) {
	err = n.mutate(ctx, "create_offer", lender, p.USDCAmount, func(ctx context.Context, env *callEnv) error {
		id, err = env.engine.CreateOffer(ctx, lender, p)
		return err
	})
	return id, err
}

// CancelOffer deactivates an offer and refunds its idle balance.
func (n *Node) CancelOffer(ctx context.Context, lender crypto.Address, offerID uint64) (refund *big.Int, err error) {
	err = n.mutate(ctx, "cancel_offer", lender, nil, func(ctx context.Context, env *callEnv) error {
		refund, err = env.engine.CancelOffer(ctx, lender, offerID)
		return err
	})
	return refund, err
}

// WithdrawFromOffer returns part of an offer's idle balance to the lender.
func (n *Node) WithdrawFromOffer(ctx context.Context, lender crypto.Address, offerID uint64, amount *big.Int) error {
	return n.mutate(ctx, "withdraw_from_offer", lender, amount, func(ctx context.Context, env *callEnv) error {
		return env.engine.WithdrawFromOffer(ctx, lender, offerID, amount)
	})
}

// Borrow locks XLM collateral and draws amount USDC from an offer.
func (n *Node) Borrow(ctx context.Context, borrower crypto.Address, offerID uint64, collateral, amount *big.Int) (id uint64, err error) {
	err = n.mutate(ctx, "borrow", borrower, amount, func(ctx context.Context, env *callEnv) error {
		id, err = env.engine.Borrow(ctx, borrower, offerID, collateral, amount)
		return err
	})
	return id, err
}

// Repay settles interest first, then principal, and releases collateral on payoff.
func (n *Node) Repay(ctx context.Context, borrower crypto.Address, loanID uint64, amount *big.Int) error {
	return n.mutate(ctx, "repay", borrower, amount, func(ctx context.Context, env *callEnv) error {
		return env.engine.Repay(ctx, borrower, loanID, amount)
	})
}

// AddCollateral locks more XLM against an active loan.
func (n *Node) AddCollateral(ctx context.Context, borrower crypto.Address, loanID uint64, amount *big.Int) error {
	return n.mutate(ctx, "add_collateral", borrower, nil, func(ctx context.Context, env *callEnv) error {
		return env.engine.AddCollateral(ctx, borrower, loanID, amount)
	})
}

// WithdrawCollateral releases XLM while the loan stays healthy.
func (n *Node) WithdrawCollateral(ctx context.Context, borrower crypto.Address, loanID uint64, amount *big.Int) error {
	return n.mutate(ctx, "withdraw_collateral", borrower, nil, func(ctx context.Context, env *callEnv) error {
		return env.engine.WithdrawCollateral(ctx, borrower, loanID, amount)
	})
}

// Liquidate repays an unhealthy loan on the borrower's behalf and seizes collateral plus the bonus.
func (n *Node) Liquidate(ctx context.Context, liquidator crypto.Address, loanID uint64) (res *lending.LiquidationResult, err error) {
	err = n.mutate(ctx, "liquidate", liquidator, nil, func(ctx context.Context, env *callEnv) error {
		res, err = env.engine.Liquidate(ctx, liquidator, loanID)
		return err
	})
	if err == nil {
		n.metrics.RecordLiquidation()
	}
	return res, err
}

// SetMaxInterestRate changes the weekly rate ceiling for new offers. Admin only.
func (n *Node) SetMaxInterestRate(ctx context.Context, caller crypto.Address, rate uint32) error {
	return n.mutate(ctx, "set_max_interest_rate", caller, nil, func(ctx context.Context, env *callEnv) error {
		return env.engine.SetMaxInterestRate(ctx, caller, rate)
	})
}

// SetOracleAddress points the engine at another price feed. Admin only.
func (n *Node) SetOracleAddress(ctx context.Context, caller, oracleAddr crypto.Address) error {
	return n.mutate(ctx, "set_oracle_address", caller, nil, func(ctx context.Context, env *callEnv) error {
		return env.engine.SetOracleAddress(ctx, caller, oracleAddr)
	})
}

// PauseContract halts every state-changing lending call. Admin only.
func (n *Node) PauseContract(ctx context.Context, caller crypto.Address) error {
	return n.mutate(ctx, "pause_contract", caller, nil, func(ctx context.Context, env *callEnv) error {
		return env.engine.Pause(ctx, caller)
	})
}

// UnpauseContract lifts a contract pause. Admin only.
func (n *Node) UnpauseContract(ctx context.Context, caller crypto.Address) error {
	return n.mutate(ctx, "unpause_contract", caller, nil, func(ctx context.Context, env *callEnv) error {
		return env.engine.Unpause(ctx, caller)
	})
}

// Read-only queries never commit.

// IsLiquidatable reports whether a loan's health has fallen below 100%.
func (n *Node) IsLiquidatable(ctx context.Context, loanID uint64) (ok bool, err error) {
	err = n.view(ctx, "is_liquidatable", func(ctx context.Context, env *callEnv) error {
		ok, err = env.engine.IsLiquidatable(ctx, loanID)
		return err
	})
	return ok, err
}

// BatchCheckLiquidations returns the liquidatable subset of loanIDs, skipping unknown ids.
func (n *Node) BatchCheckLiquidations(ctx context.Context, loanIDs []uint64) (ids []uint64, err error) {
	err = n.view(ctx, "batch_check_liquidations", func(ctx context.Context, env *callEnv) error {
		ids, err = env.engine.BatchCheckLiquidations(ctx, loanIDs)
		return err
	})
	return ids, err
}

// GetOffer returns a copy of the stored offer.
func (n *Node) GetOffer(ctx context.Context, offerID uint64) (offer *lending.Offer, err error) {
	err = n.view(ctx, "get_offer", func(ctx context.Context, env *callEnv) error {
		offer, err = env.engine.GetOffer(ctx, offerID)
		return err
	})
	return offer, err
}

// GetLoan returns a copy of the stored loan.
func (n *Node) GetLoan(ctx context.Context, loanID uint64) (loan *lending.Loan, err error) {
	err = n.view(ctx, "get_loan", func(ctx context.Context, env *callEnv) error {
		loan, err = env.engine.GetLoan(ctx, loanID)
		return err
	})
	return loan, err
}

// GetLoanHealth values a loan at the current price with interest accrued to now.
func (n *Node) GetLoanHealth(ctx context.Context, loanID uint64) (health *lending.LoanHealth, err error) {
	err = n.view(ctx, "get_loan_health", func(ctx context.Context, env *callEnv) error {
		health, err = env.engine.GetLoanHealth(ctx, loanID)
		return err
	})
	return health, err
}

// CalculateInterest returns the interest owed as of now without persisting it.
func (n *Node) CalculateInterest(ctx context.Context, loanID uint64) (interest *big.Int, err error) {
	err = n.view(ctx, "calculate_interest", func(ctx context.Context, env *callEnv) error {
		interest, err = env.engine.CalculateInterest(ctx, loanID)
		return err
	})
	return interest, err
}

// GetXLMPrice returns the current collateral quote.
func (n *Node) GetXLMPrice(ctx context.Context) (quote *lending.Quote, err error) {
	err = n.view(ctx, "get_xlm_price", func(ctx context.Context, env *callEnv) error {
		quote, err = env.engine.GetXLMPrice(ctx)
		return err
	})
	return quote, err
}

// GetUserOffers lists the offer ids created by lender.
func (n *Node) GetUserOffers(ctx context.Context, lender crypto.Address) (ids []uint64, err error) {
	err = n.view(ctx, "get_user_offers", func(ctx context.Context, env *callEnv) error {
		ids, err = env.engine.GetUserOffers(ctx, lender)
		return err
	})
	return ids, err
}

// GetUserLoansAsBorrower lists the loan ids taken by borrower.
func (n *Node) GetUserLoansAsBorrower(ctx context.Context, borrower crypto.Address) (ids []uint64, err error) {
	err = n.view(ctx, "get_user_loans_as_borrower", func(ctx context.Context, env *callEnv) error {
		ids, err = env.engine.GetUserLoansAsBorrower(ctx, borrower)
		return err
	})
	return ids, err
}

// GetUserLoansAsLender lists the loan ids funded by lender's offers.
func (n *Node) GetUserLoansAsLender(ctx context.Context, lender crypto.Address) (ids []uint64, err error) {
	err = n.view(ctx, "get_user_loans_as_lender", func(ctx context.Context, env *callEnv) error {
		ids, err = env.engine.GetUserLoansAsLender(ctx, lender)
		return err
	})
	return ids, err
}

// GetActiveOffers lists the ids of offers still accepting borrowers.
func (n *Node) GetActiveOffers(ctx context.Context) (ids []uint64, err error) {
	err = n.view(ctx, "get_active_offers", func(ctx context.Context, env *callEnv) error {
		ids, err = env.engine.GetActiveOffers(ctx)
		return err
	})
	return ids, err
}

// GetActiveLoans lists the ids of loans not yet closed.
func (n *Node) GetActiveLoans(ctx context.Context) (ids []uint64, err error) {
	err = n.view(ctx, "get_active_loans", func(ctx context.Context, env *callEnv) error {
		ids, err = env.engine.GetActiveLoans(ctx)
		return err
	})
	return ids, err
}

// ListOffers pages through active offers in the requested order.
func (n *Node) ListOffers(ctx context.Context, order lending.SortOption, offset, limit int) (offers []*lending.Offer, err error) {
	err = n.view(ctx, "list_offers", func(ctx context.Context, env *callEnv) error {
		offers, err = env.engine.ListOffers(ctx, order, offset, limit)
		return err
	})
	return offers, err
}

// Admin returns the lending admin account.
func (n *Node) Admin(ctx context.Context) (admin crypto.Address, err error) {
	err = n.view(ctx, "admin", func(ctx context.Context, env *callEnv) error {
		admin, err = env.engine.Admin(ctx)
		return err
	})
	return admin, err
}

// IsPaused reports whether the contract pause is set.
func (n *Node) IsPaused(ctx context.Context) (paused bool, err error) {
	err = n.view(ctx, "is_paused", func(ctx context.Context, env *callEnv) error {
		paused, err = env.engine.IsPaused(ctx)
		return err
	})
	return paused, err
}

// Config returns the contract's stored configuration.
func (n *Node) Config(ctx context.Context) (cfg *lending.ContractConfig, err error) {
	err = n.view(ctx, "get_config", func(ctx context.Context, env *callEnv) error {
		cfg, err = env.engine.Config(ctx)
		return err
	})
	return cfg, err
}
