package lending

import (
	"encoding/hex"
	"strconv"

	"p2plend/crypto"
)

// KeyKind enumerates the closed set of storage key variants owned by the
// lending contract.
type KeyKind uint8

const (
	KeyAdmin KeyKind = iota + 1
	KeyUsdcToken
	KeyXlmToken
	KeyOracleAddress
	KeyNextOfferID
	KeyNextLoanID
	KeyMaxInterestRate
	KeyIsPaused
	KeyLocked
	KeyOffer
	KeyLoan
	KeyUserOffers
	KeyUserLoansAsBorrower
	KeyUserLoansAsLender
	KeyActiveOffers
	KeyActiveLoans
)

var keyKindNames = map[KeyKind]string{
	KeyAdmin:               "Admin",
	KeyUsdcToken:           "UsdcToken",
	KeyXlmToken:            "XlmToken",
	KeyOracleAddress:       "OracleAddress",
	KeyNextOfferID:         "NextOfferId",
	KeyNextLoanID:          "NextLoanId",
	KeyMaxInterestRate:     "MaxInterestRate",
	KeyIsPaused:            "IsPaused",
	KeyLocked:              "Locked",
	KeyOffer:               "Offer",
	KeyLoan:                "Loan",
	KeyUserOffers:          "UserOffers",
	KeyUserLoansAsBorrower: "UserLoansAsBorrower",
	KeyUserLoansAsLender:   "UserLoansAsLender",
	KeyActiveOffers:        "ActiveOffers",
	KeyActiveLoans:         "ActiveLoans",
}

func (k KeyKind) String() string {
	if name, ok := keyKindNames[k]; ok {
		return name
	}
	return "Unknown(" + strconv.Itoa(int(k)) + ")"
}

// DataKey addresses a single value in contract storage. Only the field that
// matches Kind is meaningful: ID for Offer/Loan, Addr for the per-user sets.
type DataKey struct {
	Kind KeyKind
	ID   uint64
	Addr crypto.Address
}

// String renders the key as a stable namespaced path, used as the raw storage
// key by the host.
func (k DataKey) String() string {
	base := "lending/" + k.Kind.String()
	switch k.Kind {
	case KeyOffer, KeyLoan:
		return base + "/" + strconv.FormatUint(k.ID, 10)
	case KeyUserOffers, KeyUserLoansAsBorrower, KeyUserLoansAsLender:
		return base + "/" + hex.EncodeToString(k.Addr.Bytes())
	default:
		return base
	}
}

// Bytes returns the raw key.
func (k DataKey) Bytes() []byte { return []byte(k.String()) }

func adminKey() DataKey           { return DataKey{Kind: KeyAdmin} }
func usdcTokenKey() DataKey       { return DataKey{Kind: KeyUsdcToken} }
func xlmTokenKey() DataKey        { return DataKey{Kind: KeyXlmToken} }
func oracleAddressKey() DataKey   { return DataKey{Kind: KeyOracleAddress} }
func nextOfferIDKey() DataKey     { return DataKey{Kind: KeyNextOfferID} }
func nextLoanIDKey() DataKey      { return DataKey{Kind: KeyNextLoanID} }
func maxInterestRateKey() DataKey { return DataKey{Kind: KeyMaxInterestRate} }
func isPausedKey() DataKey        { return DataKey{Kind: KeyIsPaused} }
func lockedKey() DataKey          { return DataKey{Kind: KeyLocked} }
func activeOffersKey() DataKey    { return DataKey{Kind: KeyActiveOffers} }
func activeLoansKey() DataKey     { return DataKey{Kind: KeyActiveLoans} }

func offerKey(id uint64) DataKey { return DataKey{Kind: KeyOffer, ID: id} }
func loanKey(id uint64) DataKey  { return DataKey{Kind: KeyLoan, ID: id} }

func userOffersKey(addr crypto.Address) DataKey {
	return DataKey{Kind: KeyUserOffers, Addr: addr}
}

func userLoansAsBorrowerKey(addr crypto.Address) DataKey {
	return DataKey{Kind: KeyUserLoansAsBorrower, Addr: addr}
}

func userLoansAsLenderKey(addr crypto.Address) DataKey {
	return DataKey{Kind: KeyUserLoansAsLender, Addr: addr}
}
