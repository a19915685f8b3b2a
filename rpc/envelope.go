package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"lukechampine.com/blake3"

	"p2plend/crypto"
)

const (
	defaultEnvelopeTTL      = 5 * time.Minute
	defaultReplayCapacity   = 65536
	envelopeClockSkew       = 30 * time.Second
	envelopeSignatureLength = 65
)

var (
	ErrInvalidEnvelope  = errors.New("rpc: invalid call envelope")
	ErrSignerMismatch   = errors.New("rpc: signature does not match caller")
	ErrReplayedEnvelope = errors.New("rpc: envelope already submitted")
)

// Envelope wraps the params of a state-changing call with the caller's
// signature. The signature covers SigningPayload, which binds the method
// name so an envelope cannot be replayed against another method.
type Envelope struct {
	Caller    string          `json:"caller"`
	Nonce     uint64          `json:"nonce"`
	Expiry    int64           `json:"expiry"`
	Params    json.RawMessage `json:"params,omitempty"`
	Signature string          `json:"signature"`
}

type signingDoc struct {
	Method string          `json:"method"`
	Caller string          `json:"caller"`
	Nonce  uint64          `json:"nonce"`
	Expiry int64           `json:"expiry"`
	Params json.RawMessage `json:"params"`
}

// CanonicalJSON re-encodes raw with sorted object keys and no insignificant
// whitespace. Numbers keep their literal form.
func CanonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after params")
	}
	return json.Marshal(v)
}

// SigningPayload is the byte string signed by the caller.
func (e *Envelope) SigningPayload(method string) ([]byte, error) {
	params, err := CanonicalJSON(e.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrInvalidEnvelope, err)
	}
	return json.Marshal(signingDoc{
		Method: strings.TrimPrefix(method, MethodPrefix),
		Caller: strings.TrimSpace(e.Caller),
		Nonce:  e.Nonce,
		Expiry: e.Expiry,
		Params: params,
	})
}

// SignEnvelope builds and signs an envelope for method on behalf of key.
func SignEnvelope(key *crypto.PrivateKey, method string, nonce uint64, expiry time.Time, params interface{}) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		Caller: key.PubKey().Address().String(),
		Nonce:  nonce,
		Expiry: expiry.Unix(),
		Params: raw,
	}
	payload, err := env.SigningPayload(method)
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign(payload)
	if err != nil {
		return nil, err
	}
	env.Signature = "0x" + hex.EncodeToString(sig)
	return env, nil
}

// verify checks expiry bounds and the signature, returning the caller.
func (e *Envelope) verify(method string, now time.Time, maxTTL time.Duration) (crypto.Address, []byte, error) {
	caller, err := crypto.DecodeAddress(e.Caller)
	if err != nil {
		return crypto.Address{}, nil, fmt.Errorf("%w: caller: %v", ErrInvalidEnvelope, err)
	}
	expiry := time.Unix(e.Expiry, 0)
	if e.Expiry <= 0 || expiry.Before(now.Add(-envelopeClockSkew)) {
		return crypto.Address{}, nil, fmt.Errorf("%w: expired", ErrInvalidEnvelope)
	}
	if expiry.After(now.Add(maxTTL + envelopeClockSkew)) {
		return crypto.Address{}, nil, fmt.Errorf("%w: expiry exceeds %s", ErrInvalidEnvelope, maxTTL)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(e.Signature), "0x"))
	if err != nil || len(sig) != envelopeSignatureLength {
		return crypto.Address{}, nil, fmt.Errorf("%w: signature must be %d hex bytes", ErrInvalidEnvelope, envelopeSignatureLength)
	}
	payload, err := e.SigningPayload(method)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	signer, err := crypto.RecoverAddress(payload, sig)
	if err != nil {
		return crypto.Address{}, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if !signer.Equal(caller) {
		return crypto.Address{}, nil, ErrSignerMismatch
	}
	return caller, payload, nil
}

// replayCache remembers envelope digests for the retention window. Once
// capacity is reached the least recently seen digest is evicted.
type replayCache struct {
	mu      sync.Mutex
	entries *expirable.LRU[[32]byte, struct{}]
}

// newReplayCache keeps digests for retention, which must cover the envelope
// validity window plus clock skew on both sides.
func newReplayCache(retention time.Duration, capacity int) *replayCache {
	if retention <= 0 {
		retention = defaultEnvelopeTTL + 2*envelopeClockSkew
	}
	if capacity <= 0 {
		capacity = defaultReplayCapacity
	}
	return &replayCache{entries: expirable.NewLRU[[32]byte, struct{}](capacity, nil, retention)}
}

// Seen records the digest of payload and reports whether it was already
// present.
func (c *replayCache) Seen(payload []byte) bool {
	key := blake3.Sum256(payload)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries.Peek(key); ok {
		return true
	}
	c.entries.Add(key, struct{}{})
	return false
}

// Forget drops payload so a call rejected before execution can be resubmitted.
func (c *replayCache) Forget(payload []byte) {
	c.entries.Remove(blake3.Sum256(payload))
}

func (c *replayCache) Len() int { return c.entries.Len() }
