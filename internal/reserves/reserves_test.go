package reserves

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/thoerner/mev-bot/internal/mevtypes"
)

func TestPriceIsSymmetricUnderTokenOrder(t *testing.T) {
	tokenA := common.HexToAddress("0xaaaa")
	tokenB := common.HexToAddress("0xbbbb")

	r := mevtypes.Reserves{
		Descriptor: mevtypes.PairDescriptor{Token0: tokenA, Token1: tokenB, TokenA: tokenA, TokenB: tokenB},
		Reserve0:   big.NewInt(1_000_000),
		Reserve1:   big.NewInt(2_000_000),
	}

	priceAB, ok := Price(r, tokenA, tokenB, 18, 18)
	require.True(t, ok)

	priceBA, ok := Price(r, tokenB, tokenA, 18, 18)
	require.True(t, ok)

	require.InDelta(t, priceAB, 1/priceBA, 1e-9)
}

func TestPriceAppliesDecimalAdjustment(t *testing.T) {
	tokenA := common.HexToAddress("0xaaaa")
	tokenB := common.HexToAddress("0xbbbb")

	r := mevtypes.Reserves{
		Descriptor: mevtypes.PairDescriptor{Token0: tokenA, Token1: tokenB, TokenA: tokenA, TokenB: tokenB},
		Reserve0:   big.NewInt(1_000_000), // 1 unit at 6 decimals
		Reserve1:   big.NewInt(2_000_000_000_000_000_000), // 2 units at 18 decimals
	}

	price, ok := Price(r, tokenA, tokenB, 6, 18)
	require.True(t, ok)
	require.InDelta(t, 2.0, price, 1e-9)
}

func TestPriceRejectsUnmatchedTokenPair(t *testing.T) {
	r := mevtypes.Reserves{
		Descriptor: mevtypes.PairDescriptor{Token0: common.HexToAddress("0xaaaa"), Token1: common.HexToAddress("0xbbbb")},
		Reserve0:   big.NewInt(1),
		Reserve1:   big.NewInt(1),
	}
	_, ok := Price(r, common.HexToAddress("0xcccc"), common.HexToAddress("0xdddd"), 18, 18)
	require.False(t, ok)
}

func TestPriceRejectsZeroReserve(t *testing.T) {
	tokenA := common.HexToAddress("0xaaaa")
	tokenB := common.HexToAddress("0xbbbb")
	r := mevtypes.Reserves{
		Descriptor: mevtypes.PairDescriptor{Token0: tokenA, Token1: tokenB, TokenA: tokenA, TokenB: tokenB},
		Reserve0:   big.NewInt(0),
		Reserve1:   big.NewInt(1000),
	}
	_, ok := Price(r, tokenA, tokenB, 18, 18)
	require.False(t, ok)
}

func TestMaxTradeHeuristicBins(t *testing.T) {
	cases := map[string]struct {
		reserve  float64
		isNative bool
		want     float64
	}{
		"deep pool, non-native capped at 1000": {reserve: 100_000, isNative: false, want: 1000},
		"mid pool 5pct":                        {reserve: 500, isNative: false, want: 25},
		"shallow pool 10pct":                   {reserve: 50, isNative: false, want: 5},
		"native pool capped at 10":             {reserve: 100_000, isNative: true, want: 10},
		"zero reserve disables pair":           {reserve: 0, isNative: false, want: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := MaxTradeHeuristic(tc.reserve, tc.isNative)
			require.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestMaxTradeHeuristicFloorsTinyResult(t *testing.T) {
	got := MaxTradeHeuristic(0.001, false)
	require.InDelta(t, 0.001, got, 1e-9)
}
