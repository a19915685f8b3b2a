package lending

import (
	"context"
	"strconv"

	"p2plend/crypto"
)

// InitParams carries the one-time constructor arguments.
type InitParams struct {
	Admin           crypto.Address
	USDCToken       crypto.Address
	XLMToken        crypto.Address
	Oracle          crypto.Address
	MaxInterestRate uint32
}

// ContractConfig is a read-only snapshot of the contract configuration.
type ContractConfig struct {
	Admin           crypto.Address `json:"admin"`
	USDCToken       crypto.Address `json:"usdcToken"`
	XLMToken        crypto.Address `json:"xlmToken"`
	Oracle          crypto.Address `json:"oracle"`
	MaxInterestRate uint32         `json:"maxInterestRate"`
	Paused          bool           `json:"paused"`
	NextOfferID     uint64         `json:"nextOfferId"`
	NextLoanID      uint64         `json:"nextLoanId"`
	Params          Params         `json:"params"`
}

// Initialize runs the constructor. It can succeed exactly once.
func (e *Engine) Initialize(ctx context.Context, p InitParams) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	s := store{state: e.state}
	if _, ok, err := s.address(adminKey()); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}
	if p.Admin.IsZero() {
		return ErrInvalidInput
	}
	if p.USDCToken.IsZero() {
		return ErrUsdcTokenNotSet
	}
	if p.XLMToken.IsZero() {
		return ErrXlmTokenNotSet
	}
	maxRate := p.MaxInterestRate
	if maxRate == 0 {
		maxRate = e.params.DefaultMaxInterestRate
	}
	if maxRate > BasisPoints {
		return ErrInvalidInterestRate
	}
	if err := s.putAddress(adminKey(), p.Admin); err != nil {
		return err
	}
	if err := s.putAddress(usdcTokenKey(), p.USDCToken); err != nil {
		return err
	}
	if err := s.putAddress(xlmTokenKey(), p.XLMToken); err != nil {
		return err
	}
	if !p.Oracle.IsZero() {
		if err := s.putAddress(oracleAddressKey(), p.Oracle); err != nil {
			return err
		}
	}
	if err := s.put(maxInterestRateKey(), uint64(maxRate)); err != nil {
		return err
	}
	e.emit(newAdminEvent(EventTypeInitialized, p.Admin, map[string]string{
		"usdcToken":       p.USDCToken.String(),
		"xlmToken":        p.XLMToken.String(),
		"oracle":          p.Oracle.String(),
		"maxInterestRate": bpsString(maxRate),
	}))
	return nil
}

// Admin returns the configured administrator.
func (e *Engine) Admin(ctx context.Context) (crypto.Address, error) {
	s, err := e.reader()
	if err != nil {
		return crypto.Address{}, err
	}
	addr, _, err := s.address(adminKey())
	return addr, err
}

func (e *Engine) requireAdmin(caller crypto.Address) (store, error) {
	s, err := e.reader()
	if err != nil {
		return store{}, err
	}
	admin, _, err := s.address(adminKey())
	if err != nil {
		return store{}, err
	}
	if !admin.Equal(caller) {
		return store{}, ErrOnlyAdmin
	}
	return s, nil
}

func (e *Engine) maxInterestRate(s store) (uint32, error) {
	v, ok, err := s.uint64Value(maxInterestRateKey())
	if err != nil {
		return 0, err
	}
	if !ok || v == 0 {
		return e.params.DefaultMaxInterestRate, nil
	}
	return uint32(v), nil
}

// SetMaxInterestRate updates the ceiling for new offers' weekly rates.
func (e *Engine) SetMaxInterestRate(ctx context.Context, caller crypto.Address, rate uint32) error {
	s, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	if rate == 0 || rate > BasisPoints {
		return ErrInvalidInterestRate
	}
	if err := s.put(maxInterestRateKey(), uint64(rate)); err != nil {
		return err
	}
	e.emit(newAdminEvent(EventTypeMaxRateUpdated, caller, map[string]string{"maxInterestRate": bpsString(rate)}))
	return nil
}

// SetOracleAddress points the contract at a different price feed.
func (e *Engine) SetOracleAddress(ctx context.Context, caller, oracle crypto.Address) error {
	s, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	if oracle.IsZero() {
		return ErrInvalidInput
	}
	if err := s.putAddress(oracleAddressKey(), oracle); err != nil {
		return err
	}
	e.emit(newAdminEvent(EventTypeOracleUpdated, caller, map[string]string{"oracle": oracle.String()}))
	return nil
}

// Pause blocks every mutating entry point. Reads and admin calls stay
// available.
func (e *Engine) Pause(ctx context.Context, caller crypto.Address) error {
	return e.setPaused(caller, true)
}

// Unpause lifts the pause switch.
func (e *Engine) Unpause(ctx context.Context, caller crypto.Address) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller crypto.Address, paused bool) error {
	s, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	if err := s.setFlag(isPausedKey(), paused); err != nil {
		return err
	}
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	e.emit(newAdminEvent(eventType, caller, map[string]string{"paused": strconv.FormatBool(paused)}))
	return nil
}

// IsPaused reports the contract pause switch.
func (e *Engine) IsPaused(ctx context.Context) (bool, error) {
	s, err := e.reader()
	if err != nil {
		return false, err
	}
	return s.boolValue(isPausedKey())
}

// Config returns the current contract configuration.
func (e *Engine) Config(ctx context.Context) (*ContractConfig, error) {
	s, err := e.reader()
	if err != nil {
		return nil, err
	}
	cfg := &ContractConfig{Params: e.params}
	if cfg.Admin, _, err = s.address(adminKey()); err != nil {
		return nil, err
	}
	if cfg.USDCToken, _, err = s.address(usdcTokenKey()); err != nil {
		return nil, err
	}
	if cfg.XLMToken, _, err = s.address(xlmTokenKey()); err != nil {
		return nil, err
	}
	if cfg.Oracle, _, err = s.address(oracleAddressKey()); err != nil {
		return nil, err
	}
	if cfg.MaxInterestRate, err = e.maxInterestRate(s); err != nil {
		return nil, err
	}
	if cfg.Paused, err = s.boolValue(isPausedKey()); err != nil {
		return nil, err
	}
	if cfg.NextOfferID, err = peekCounter(s, nextOfferIDKey()); err != nil {
		return nil, err
	}
	if cfg.NextLoanID, err = peekCounter(s, nextLoanIDKey()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func peekCounter(s store, key DataKey) (uint64, error) {
	next, ok, err := s.uint64Value(key)
	if err != nil {
		return 0, err
	}
	if !ok || next == 0 {
		return 1, nil
	}
	return next, nil
}
