package ingestor

import (
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thoerner/mev-bot/internal/swapdecode"
)

const routerABIForTests = `[
	{"name":"swapExactTokensForTokens","type":"function","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]}
]`

func mustPackSwap(t *testing.T, method string, args ...interface{}) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(routerABIForTests))
	require.NoError(t, err)
	data, err := parsed.Pack(method, args...)
	require.NoError(t, err)
	return data
}

func newTestIngestor(t *testing.T, routers []common.Address) *Ingestor {
	t.Helper()
	decoder, err := swapdecode.New()
	require.NoError(t, err)
	return New(nil, nil, decoder, Config{Routers: routers}, zerolog.New(io.Discard))
}

func signedLegacyTx(t *testing.T, chainID *big.Int, to *common.Address, data []byte) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := types.NewTx(&types.LegacyTx{
		Nonce: 3, To: to, Value: big.NewInt(0), Gas: 200000, GasPrice: big.NewInt(25_000_000_000), Data: data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)
	return signed
}

func TestEnrichDecodesSwapAgainstKnownRouter(t *testing.T) {
	decoder, err := swapdecode.New()
	require.NoError(t, err)

	router := common.HexToAddress("0x1111")
	path := []common.Address{common.HexToAddress("0xaaaa"), common.HexToAddress("0xbbbb")}

	abiCaller, err := decoder.Decode(router, nil) // sanity: decoder usable stand-alone
	require.NoError(t, err)
	require.Nil(t, abiCaller)

	data := mustPackSwap(t, "swapExactTokensForTokens", big.NewInt(1000), big.NewInt(990), path, common.HexToAddress("0xcccc"), big.NewInt(1_700_000_000))

	ing := newTestIngestor(t, []common.Address{router})
	tx := signedLegacyTx(t, big.NewInt(1), &router, data)

	pt := ing.enrich(tx.Hash(), tx)
	require.NotNil(t, pt.Swap)
	require.True(t, pt.Swap.IsSwap)
	require.Equal(t, path[0], pt.Swap.TokenIn)
}

func TestEnrichLeavesSwapNilForUnknownRouter(t *testing.T) {
	known := common.HexToAddress("0x1111")
	unknown := common.HexToAddress("0x9999")
	path := []common.Address{common.HexToAddress("0xaaaa"), common.HexToAddress("0xbbbb")}
	data := mustPackSwap(t, "swapExactTokensForTokens", big.NewInt(1000), big.NewInt(990), path, common.HexToAddress("0xcccc"), big.NewInt(1_700_000_000))

	ing := newTestIngestor(t, []common.Address{known})
	tx := signedLegacyTx(t, big.NewInt(1), &unknown, data)

	pt := ing.enrich(tx.Hash(), tx)
	require.Nil(t, pt.Swap)
}

func TestEnrichHandlesContractCreation(t *testing.T) {
	ing := newTestIngestor(t, nil)
	tx := signedLegacyTx(t, big.NewInt(1), nil, []byte{0x60, 0x60})

	pt := ing.enrich(tx.Hash(), tx)
	require.Nil(t, pt.Swap)
	require.Nil(t, pt.To)
}

func TestDedupCapWipesSeenSetWhenFull(t *testing.T) {
	ing := newTestIngestor(t, nil)

	for i := 0; i < dedupCap; i++ {
		ing.markSeen(common.BigToHash(big.NewInt(int64(i))))
	}
	require.Len(t, ing.seen, dedupCap)

	// One more insert trips the bounded-memory wipe before recording.
	ing.markSeen(common.BigToHash(big.NewInt(int64(dedupCap))))
	require.Len(t, ing.seen, 1)
}

func TestAlreadySeenReflectsMarkSeen(t *testing.T) {
	ing := newTestIngestor(t, nil)
	hash := common.BigToHash(big.NewInt(1))

	require.False(t, ing.alreadySeen(hash))
	ing.markSeen(hash)
	require.True(t, ing.alreadySeen(hash))
}
