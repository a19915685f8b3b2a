package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"p2plend/crypto"
	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
	"p2plend/native/oracle"
	"p2plend/native/token"
)

// TokenSpec describes a token created at bootstrap.
type TokenSpec struct {
	Address  crypto.Address
	Name     string
	Symbol   string
	Decimals uint8
}

// Genesis is the first-start wiring of tokens, feed and contract.
type Genesis struct {
	Admin           crypto.Address
	Operator        crypto.Address
	USDC            TokenSpec
	XLM             TokenSpec
	Oracle          crypto.Address
	OracleBase      string
	MaxInterestRate uint32
}

// Bootstrap brings an empty store to a usable state: it stamps the schema
// version, registers both tokens, initializes the price feed and runs the
// contract constructor. Steps already applied are skipped, so Bootstrap is
// safe to run on every start. The genesis operator is exempt from caller
// quotas once Bootstrap succeeds.
func (n *Node) Bootstrap(ctx context.Context, g Genesis) error {
	if err := n.bootstrap(ctx, g); err != nil {
		return err
	}
	n.mu.Lock()
	n.operator = g.Operator
	n.mu.Unlock()
	return nil
}

func (n *Node) bootstrap(ctx context.Context, g Genesis) error {
	return n.mutate(ctx, "bootstrap", crypto.Address{}, nil, func(ctx context.Context, env *callEnv) error {
		if err := env.mgr.EnsureSchema(); err != nil {
			return err
		}
		for _, spec := range []TokenSpec{g.USDC, g.XLM} {
			if _, err := env.ledger.Metadata(spec.Address); err == nil {
				continue
			} else if !errors.Is(err, token.ErrUnknownToken) {
				return err
			}
			decimals := spec.Decimals
			if decimals == 0 {
				decimals = token.DefaultDecimals
			}
			if _, err := env.ledger.Register(spec.Address, spec.Name, spec.Symbol, decimals, g.Operator); err != nil {
				return fmt.Errorf("bootstrap token %s: %w", spec.Symbol, err)
			}
		}
		if !g.Oracle.IsZero() {
			feed := env.feed(g.Oracle, n.retention)
			if _, err := feed.Admin(); errors.Is(err, oracle.ErrNotInitialized) {
				base := g.OracleBase
				if base == "" {
					base = g.USDC.Symbol
				}
				if err := feed.Initialize(g.Operator, base); err != nil {
					return fmt.Errorf("bootstrap oracle: %w", err)
				}
			} else if err != nil {
				return err
			}
		}
		if _, err := env.engine.Admin(ctx); err == nil {
			return nil
		} else if !errors.Is(err, lending.ErrNotInitialized) {
			return err
		}
		return env.engine.Initialize(ctx, lending.InitParams{
			Admin:           g.Admin,
			USDCToken:       g.USDC.Address,
			XLMToken:        g.XLM.Address,
			Oracle:          g.Oracle,
			MaxInterestRate: g.MaxInterestRate,
		})
	})
}

// Mint credits new token supply. Only the token's minter may call it.
func (n *Node) Mint(ctx context.Context, caller, tokenAddr, to crypto.Address, amount *big.Int) error {
	return n.mutate(ctx, "token_mint", caller, nil, func(ctx context.Context, env *callEnv) error {
		if err := nativecommon.Guard(n.pauses, "token"); err != nil {
			return err
		}
		return env.ledger.Mint(caller, tokenAddr, to, amount)
	})
}

// Approve sets spender's allowance over owner's tokens.
func (n *Node) Approve(ctx context.Context, owner, tokenAddr, spender crypto.Address, amount *big.Int) error {
	return n.mutate(ctx, "token_approve", owner, nil, func(ctx context.Context, env *callEnv) error {
		if err := nativecommon.Guard(n.pauses, "token"); err != nil {
			return err
		}
		return env.ledger.Approve(owner, tokenAddr, spender, amount)
	})
}

// Transfer moves tokens between accounts.
func (n *Node) Transfer(ctx context.Context, from, tokenAddr, to crypto.Address, amount *big.Int) error {
	return n.mutate(ctx, "token_transfer", from, nil, func(ctx context.Context, env *callEnv) error {
		if err := nativecommon.Guard(n.pauses, "token"); err != nil {
			return err
		}
		return env.ledger.Transfer(ctx, tokenAddr, from, to, amount)
	})
}

func (n *Node) Balance(ctx context.Context, tokenAddr, holder crypto.Address) (bal *big.Int, err error) {
	err = n.view(ctx, "token_balance", func(ctx context.Context, env *callEnv) error {
		bal, err = env.ledger.Balance(ctx, tokenAddr, holder)
		return err
	})
	return bal, err
}

func (n *Node) Allowance(ctx context.Context, tokenAddr, owner, spender crypto.Address) (amt *big.Int, err error) {
	err = n.view(ctx, "token_allowance", func(ctx context.Context, env *callEnv) error {
		amt, err = env.ledger.Allowance(tokenAddr, owner, spender)
		return err
	})
	return amt, err
}

func (n *Node) TokenMetadata(ctx context.Context, tokenAddr crypto.Address) (meta *token.Metadata, err error) {
	err = n.view(ctx, "token_metadata", func(ctx context.Context, env *callEnv) error {
		meta, err = env.ledger.Metadata(tokenAddr)
		return err
	})
	return meta, err
}

// SetPrice records an oracle sample. Only the feed admin may push.
func (n *Node) SetPrice(ctx context.Context, caller, feedAddr crypto.Address, asset string, price *big.Int, timestamp uint64) error {
	return n.mutate(ctx, "oracle_set_price", caller, nil, func(ctx context.Context, env *callEnv) error {
		if err := nativecommon.Guard(n.pauses, "oracle"); err != nil {
			return err
		}
		if timestamp == 0 {
			timestamp = uint64(n.nowFn().Unix())
		}
		return env.feed(feedAddr, n.retention).SetPrice(caller, asset, price, timestamp)
	})
}

// Prices returns up to count samples of asset, newest first.
func (n *Node) Prices(ctx context.Context, feedAddr crypto.Address, asset string, count int) (out []lending.PriceData, err error) {
	err = n.view(ctx, "oracle_prices", func(ctx context.Context, env *callEnv) error {
		out, err = env.feed(feedAddr, n.retention).Prices(ctx, asset, count)
		return err
	})
	return out, err
}
