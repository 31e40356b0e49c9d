package stages

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/thoerner/mev-bot/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Venues: []config.VenueConfig{
			{Name: "traderjoe", Factory: "0x1111", Router: "0x2222"},
			{Name: "pangolin", Factory: "0x3333", Router: "0x4444"},
		},
		Tokens: []config.TokenConfig{
			{Symbol: "WAVAX", Address: "0xaaaa", Decimals: 18},
			{Symbol: "USDC", Address: "0xbbbb", Decimals: 6},
		},
		Pairs: []config.PairConfig{
			{TokenA: "WAVAX", TokenB: "USDC"},
		},
		MEV: config.MEVParams{NativeWrappedSymbol: "WAVAX"},
	}
}

func TestRouterAddressesCoversEveryVenue(t *testing.T) {
	addrs := routerAddresses(testConfig())
	require.Len(t, addrs, 2)
	require.Contains(t, addrs, common.HexToAddress("0x2222"))
	require.Contains(t, addrs, common.HexToAddress("0x4444"))
}

func TestRouterTableKeyedByVenueName(t *testing.T) {
	table := routerTable(testConfig())
	require.Equal(t, common.HexToAddress("0x2222"), table["traderjoe"])
	require.Equal(t, common.HexToAddress("0x4444"), table["pangolin"])
}

func TestVenueRefsCarriesFactoryAddress(t *testing.T) {
	refs := venueRefs(testConfig())
	require.Len(t, refs, 2)
	require.Equal(t, common.HexToAddress("0x1111"), refs[0].Factory)
}

func TestPairRefsResolvesSymbolsToAddresses(t *testing.T) {
	refs, err := pairRefs(testConfig())
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, common.HexToAddress("0xaaaa"), refs[0].TokenA)
	require.Equal(t, common.HexToAddress("0xbbbb"), refs[0].TokenB)
}

func TestPairRefsErrorsOnUnknownToken(t *testing.T) {
	cfg := testConfig()
	cfg.Pairs = []config.PairConfig{{TokenA: "NOPE", TokenB: "USDC"}}
	_, err := pairRefs(cfg)
	require.Error(t, err)
}

func TestDetectorPairSpecsMirrorsPairRefs(t *testing.T) {
	specs, err := detectorPairSpecs(testConfig())
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, common.HexToAddress("0xaaaa"), specs[0].TokenA)
}

func TestReserveTokenTableCarriesDecimals(t *testing.T) {
	table := reserveTokenTable(testConfig())
	require.Equal(t, 18, table[common.HexToAddress("0xaaaa")].Decimals)
	require.Equal(t, 6, table[common.HexToAddress("0xbbbb")].Decimals)
}

func TestDetectorTokenTableFlagsNativeWrapped(t *testing.T) {
	native := common.HexToAddress("0xaaaa")
	table := detectorTokenTable(testConfig(), native)
	require.True(t, table[native].IsNative)
	require.False(t, table[common.HexToAddress("0xbbbb")].IsNative)
}

func TestTokenDecimalsTable(t *testing.T) {
	table := tokenDecimalsTable(testConfig())
	require.Equal(t, 18, table[common.HexToAddress("0xaaaa")])
}

func TestNativeAddressResolvesConfiguredSymbol(t *testing.T) {
	addr, err := nativeAddress(testConfig())
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xaaaa"), addr)
}

func TestNativeAddressErrorsWhenSymbolMissing(t *testing.T) {
	cfg := testConfig()
	cfg.MEV.NativeWrappedSymbol = "NOPE"
	_, err := nativeAddress(cfg)
	require.Error(t, err)
}

func TestTrimHexPrefix(t *testing.T) {
	require.Equal(t, "abcd", trimHexPrefix("0xabcd"))
	require.Equal(t, "abcd", trimHexPrefix("0Xabcd"))
	require.Equal(t, "abcd", trimHexPrefix("abcd"))
}

func TestHumanToWeiScalesByDecimals(t *testing.T) {
	out := humanToWei(1.5, 18)
	expected := new(big.Int)
	expected.SetString("1500000000000000000", 10)
	require.Equal(t, expected, out)
}

func TestHumanToWeiZeroDecimals(t *testing.T) {
	out := humanToWei(42, 0)
	require.Equal(t, big.NewInt(42), out)
}
