package token

import (
	"encoding/hex"

	"p2plend/crypto"
)

var (
	metadataPrefix  = "token/meta/"
	balancePrefix   = "token/balance/"
	allowancePrefix = "token/allowance/"
	supplyPrefix    = "token/supply/"
	tokenIndexKey   = []byte("token/index")
)

func addrHex(a crypto.Address) string { return hex.EncodeToString(a.Bytes()) }

func metadataKey(token crypto.Address) []byte {
	return []byte(metadataPrefix + addrHex(token))
}

func balanceKey(token, holder crypto.Address) []byte {
	return []byte(balancePrefix + addrHex(token) + "/" + addrHex(holder))
}

func allowanceKey(token, owner, spender crypto.Address) []byte {
	return []byte(allowancePrefix + addrHex(token) + "/" + addrHex(owner) + "/" + addrHex(spender))
}

func supplyKey(token crypto.Address) []byte {
	return []byte(supplyPrefix + addrHex(token))
}
