package main

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/clients/evm"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/clients/evm/mocks"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/config"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging/logtest"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/services"
)

const chainsYAML = `
chains:
  - chain_id: 42161
    rpc_url: https://arb.example
    start_block: 100
    prediction:
      recompute_every_blocks: 5
      lookback_blocks: 100
      percentile: 0.3
  - chain_id: 10
    rpc_url: wss://op.example
    contract_address: "0x00000000000000000000000000000000000b71d9"
    start_block: 50
    prediction:
      recompute_every_blocks: 1
      lookback_blocks: 10
      percentile: 0.5
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	chains, err := config.ParseChains([]byte(chainsYAML))
	require.NoError(t, err)

	return &config.Config{DatabaseURL: "memory://", ChainConfigs: chains}
}

func TestPrintStatus(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	database := db.NewMemoryDB()
	require.NoError(t, database.InitChains(ctx, []uint64{10}))
	for n := uint64(60); n <= 62; n++ {
		require.NoError(t, database.RecordGasSample(ctx, &models.GasSample{ChainID: 10, BlockNumber: n, BaseFee: big.NewInt(1)}))
	}

	var out bytes.Buffer
	require.NoError(t, printStatus(ctx, &out, cfg, database))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "CHAIN"))
	assert.Equal(t, []string{"10", "OPTIMISM", "3", "62", "0", "0"}, strings.Fields(lines[1]))
	// chain tables not created yet
	assert.Equal(t, []string{"42161", "ARBITRUM", "-", "-", "-", "-"}, strings.Fields(lines[2]))
}

func TestCreatePipelines(t *testing.T) {
	cfg := testConfig(t)
	logger := logtest.New(t)

	clients := make(map[uint64]*evm.RateLimitedClient)
	for chainID, chain := range cfg.ChainConfigs {
		clients[chainID] = evm.NewRateLimitedClient(&mocks.MockChainReader{}, *chain, logger)
	}

	pipelines, err := createPipelines(cfg, clients, db.NewMemoryDB(), []services.PredictionSink{services.NewPredictionCache()}, logger)
	require.NoError(t, err)
	require.Len(t, pipelines, 2)
	assert.Equal(t, uint64(10), pipelines[0].ChainID())
	assert.Equal(t, "ARBITRUM", pipelines[1].Name())

	delete(clients, 10)
	_, err = createPipelines(cfg, clients, db.NewMemoryDB(), nil, logger)
	assert.Error(t, err)
}

func TestRootCommandFlags(t *testing.T) {
	root := newRootCommand()

	require.NoError(t, root.ParseFlags([]string{"--log-level", "debug", "--log-json"}))

	level, err := root.PersistentFlags().GetString("log-level")
	require.NoError(t, err)
	assert.Equal(t, "debug", level)

	status, _, err := root.Find([]string{"status"})
	require.NoError(t, err)
	assert.Equal(t, "status", status.Name())
}
