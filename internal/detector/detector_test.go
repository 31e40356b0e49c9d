package detector

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/thoerner/mev-bot/internal/mevtypes"
)

var (
	tokenA = common.HexToAddress("0xaaaa") // native wrapped in these tests
	tokenB = common.HexToAddress("0xbbbb")
)

func reservesFor(venue string, reserveA, reserveB int64) venueReserves {
	return venueReserves{
		venue: venue,
		r: mevtypes.Reserves{
			Descriptor: mevtypes.PairDescriptor{
				Venue: venue, Token0: tokenA, Token1: tokenB, TokenA: tokenA, TokenB: tokenB,
			},
			Reserve0: big.NewInt(reserveA),
			Reserve1: big.NewInt(reserveB),
		},
	}
}

func newTestDetector() *Detector {
	tokens := map[common.Address]TokenInfo{
		tokenA: {Decimals: 18, IsNative: true},
		tokenB: {Decimals: 18, IsNative: false},
	}
	return &Detector{tokens: tokens}
}

func TestCompareFindsProfitableGap(t *testing.T) {
	d := newTestDetector()
	pr := PairSpec{TokenA: tokenA, TokenB: tokenB}

	// Reserves expressed in 18-decimal wei so the max-trade heuristic sees
	// realistic human-unit pool depth (thousands of tokenA).
	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	reserveA := new(big.Int).Mul(big.NewInt(2000), oneToken)
	cheapB := new(big.Int).Mul(big.NewInt(4000), oneToken) // price tokenB/tokenA = 2
	richB := new(big.Int).Mul(big.NewInt(4400), oneToken)  // price = 2.2

	cheap := venueReserves{venue: "traderjoe", r: mevtypes.Reserves{
		Descriptor: mevtypes.PairDescriptor{Venue: "traderjoe", Token0: tokenA, Token1: tokenB, TokenA: tokenA, TokenB: tokenB},
		Reserve0:   reserveA, Reserve1: cheapB,
	}}
	rich := venueReserves{venue: "pangolin", r: mevtypes.Reserves{
		Descriptor: mevtypes.PairDescriptor{Venue: "pangolin", Token0: tokenA, Token1: tokenB, TokenA: tokenA, TokenB: tokenB},
		Reserve0:   reserveA, Reserve1: richB,
	}}

	opp, ok := d.compare(pr, cheap, rich)
	require.True(t, ok)
	require.Equal(t, "traderjoe", opp.BuyVenue)
	require.Equal(t, "pangolin", opp.SellVenue)
	require.Greater(t, opp.ProfitPercent, rejectProfitFloor)
	require.LessOrEqual(t, opp.MinTrade, opp.MaxTrade)
}

func TestCompareRejectsEqualPrices(t *testing.T) {
	d := newTestDetector()
	pr := PairSpec{TokenA: tokenA, TokenB: tokenB}

	a := reservesFor("traderjoe", 1_000_000, 2_000_000)
	b := reservesFor("pangolin", 500_000, 1_000_000) // same ratio

	_, ok := d.compare(pr, a, b)
	require.False(t, ok)
}

func TestCompareRejectsBelowRejectFloor(t *testing.T) {
	d := newTestDetector()
	pr := PairSpec{TokenA: tokenA, TokenB: tokenB}

	a := reservesFor("traderjoe", 1_000_000, 2_000_000)
	b := reservesFor("pangolin", 1_000_000, 2_000_500) // tiny gap, under reject floor

	_, ok := d.compare(pr, a, b)
	require.False(t, ok)
}

func TestCompareRejectsUnknownToken(t *testing.T) {
	d := &Detector{tokens: map[common.Address]TokenInfo{}}
	pr := PairSpec{TokenA: tokenA, TokenB: tokenB}

	a := reservesFor("traderjoe", 1_000_000, 2_000_000)
	b := reservesFor("pangolin", 1_000_000, 2_200_000)

	_, ok := d.compare(pr, a, b)
	require.False(t, ok)
}

func TestHumanUnitsScalesByDecimals(t *testing.T) {
	r := mevtypes.Reserves{
		Descriptor: mevtypes.PairDescriptor{Token0: tokenA, Token1: tokenB},
		Reserve0:   big.NewInt(5_000_000_000_000_000_000), // 5 units at 18 decimals
		Reserve1:   big.NewInt(1),
	}
	require.InDelta(t, 5.0, humanUnits(r, tokenA, 18), 1e-6)
}

func TestBigToFloat(t *testing.T) {
	require.InDelta(t, 42.0, bigToFloat(big.NewInt(42)), 1e-9)
}
