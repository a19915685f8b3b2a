package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuotaTrackerRequestLimit(t *testing.T) {
	tracker := NewQuotaTracker(Quota{MaxRequestsPerEpoch: 2, EpochSeconds: 60})

	require.NoError(t, tracker.Charge("alice", 60, nil))
	require.NoError(t, tracker.Charge("alice", 61, nil))
	require.ErrorIs(t, tracker.Charge("alice", 62, nil), ErrQuotaRequestsExceeded)
	require.NoError(t, tracker.Charge("bob", 62, nil))

	require.NoError(t, tracker.Charge("alice", 120, nil))
	require.Equal(t, uint32(1), tracker.Usage("alice", 120).Requests)
}

func TestQuotaTrackerVolumeRejectionKeepsCounters(t *testing.T) {
	tracker := NewQuotaTracker(Quota{MaxVolumePerEpoch: 1_000, EpochSeconds: 3600})

	require.NoError(t, tracker.Charge("alice", 0, big.NewInt(1_000)))
	require.ErrorIs(t, tracker.Charge("alice", 1, big.NewInt(1)), ErrQuotaVolumeExceeded)

	usage := tracker.Usage("alice", 1)
	require.Equal(t, uint32(1), usage.Requests)
	require.Zero(t, usage.Volume.Cmp(big.NewInt(1_000)))

	require.NoError(t, tracker.Charge("alice", 3600, big.NewInt(500)))
}

func TestQuotaTrackerDisabled(t *testing.T) {
	var nilTracker *QuotaTracker
	require.NoError(t, nilTracker.Charge("alice", 0, big.NewInt(1)))

	tracker := NewQuotaTracker(Quota{})
	require.False(t, tracker.Enabled())
	require.NoError(t, tracker.Charge("alice", 0, new(big.Int).Lsh(big.NewInt(1), 200)))
}

func TestQuotaEpoch(t *testing.T) {
	require.Equal(t, uint64(2), Quota{}.Epoch(125))
	require.Equal(t, uint64(2), Quota{EpochSeconds: 3600}.Epoch(7200))
}
