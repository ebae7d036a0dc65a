package main

import (
	"testing"
	"time"

	fpmath "PerpParity/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PARITY_RPC_URL", "")
	t.Setenv("PARITY_EPOCH_START", "")
	t.Setenv("PARITY_TOLERANCE_WEI", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Equal(t, 12*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(12), cfg.PollConfirmations)
	assert.Equal(t, 0, cfg.Core.Tolerance.Sign())
	assert.True(t, cfg.Core.EpochStart.IsZero())
	assert.Equal(t, common.Address{}, cfg.Contracts.Vault)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PARITY_PERSIST_BATCH_SIZE", "200")
	t.Setenv("PARITY_PERSIST_FLUSH_TIMEOUT", "25ms")
	t.Setenv("PARITY_FUNDING_ROUNDING", "floor_always")
	t.Setenv("PARITY_TOLERANCE_WEI", "0x10")
	t.Setenv("PARITY_EPOCH_START", "2024-01-01T00:00:00Z")
	t.Setenv("PARITY_EPOCH_REQUESTS", "3")
	t.Setenv("PARITY_RPC_URL", "http://localhost:8545")
	t.Setenv("PARITY_BORROWING_ADDRESS", "0x0000000000000000000000000000000000000001")
	t.Setenv("PARITY_VAULT_ADDRESS", "0x0000000000000000000000000000000000000002")
	t.Setenv("PARITY_OPEN_PNL_FEED_ADDRESS", "0x0000000000000000000000000000000000000003")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.PersistBatchSize)
	assert.Equal(t, 25*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, fpmath.FundingFloorAlways, cfg.Core.Market.FundingRounding)
	assert.Equal(t, int64(16), cfg.Core.Tolerance.Int64())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Core.EpochStart)
	assert.Equal(t, 3, cfg.Core.Epoch.RequestsPerEpoch)
	assert.Equal(t, common.HexToAddress("0x02"), cfg.Contracts.Vault)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad rounding", map[string]string{"PARITY_FUNDING_ROUNDING": "up"}},
		{"bad tolerance", map[string]string{"PARITY_TOLERANCE_WEI": "lots"}},
		{"bad epoch start", map[string]string{"PARITY_EPOCH_START": "yesterday"}},
		{"rpc without addresses", map[string]string{"PARITY_RPC_URL": "http://localhost:8545", "PARITY_VAULT_ADDRESS": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
