package common

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaVolumeExceeded   = errors.New("quota volume cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

const defaultEpochSeconds = 60

// Quota bounds how many calls, and how much value, one caller may push
// through the engine per epoch. Zero limits are disabled.
type Quota struct {
	MaxRequestsPerEpoch uint32
	// MaxVolumePerEpoch is counted in whole tokens.
	MaxVolumePerEpoch uint64
	EpochSeconds      uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxVolumePerEpoch > 0
}

// Epoch maps a unix timestamp onto its window. A zero window length is one
// minute.
func (q Quota) Epoch(unix uint64) uint64 {
	window := uint64(q.EpochSeconds)
	if window == 0 {
		window = defaultEpochSeconds
	}
	return unix / window
}

// QuotaUsage is one caller's consumption within an epoch.
type QuotaUsage struct {
	Epoch    uint64
	Requests uint32
	Volume   *big.Int
}

// QuotaTracker keeps per-caller usage in memory; counters restart with the
// process.
type QuotaTracker struct {
	quota Quota

	mu    sync.Mutex
	usage map[string]QuotaUsage
}

func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[string]QuotaUsage)}
}

// Enabled reports whether Charge can ever reject.
func (t *QuotaTracker) Enabled() bool { return t != nil && t.quota.Enabled() }

// Charge books one request plus volume for caller at unix. A rejected charge
// leaves the caller's counters untouched.
func (t *QuotaTracker) Charge(caller string, unix uint64, volume *big.Int) error {
	if !t.Enabled() {
		return nil
	}
	epoch := t.quota.Epoch(unix)
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.usage[caller]
	if !ok || cur.Epoch != epoch {
		cur = QuotaUsage{Epoch: epoch, Volume: new(big.Int)}
	}
	if cur.Requests == math.MaxUint32 {
		return ErrQuotaCounterOverflow
	}
	next := QuotaUsage{Epoch: epoch, Requests: cur.Requests + 1, Volume: new(big.Int).Set(cur.Volume)}
	if t.quota.MaxRequestsPerEpoch > 0 && next.Requests > t.quota.MaxRequestsPerEpoch {
		return ErrQuotaRequestsExceeded
	}
	if volume != nil && volume.Sign() > 0 {
		next.Volume.Add(next.Volume, volume)
	}
	if t.quota.MaxVolumePerEpoch > 0 && next.Volume.Cmp(new(big.Int).SetUint64(t.quota.MaxVolumePerEpoch)) > 0 {
		return ErrQuotaVolumeExceeded
	}
	t.usage[caller] = next
	return nil
}

// Usage returns caller's counters for the epoch containing unix.
func (t *QuotaTracker) Usage(caller string, unix uint64) QuotaUsage {
	epoch := t.quota.Epoch(unix)
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.usage[caller]
	if !ok || cur.Epoch != epoch {
		return QuotaUsage{Epoch: epoch, Volume: new(big.Int)}
	}
	return QuotaUsage{Epoch: cur.Epoch, Requests: cur.Requests, Volume: new(big.Int).Set(cur.Volume)}
}
