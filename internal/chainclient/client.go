// Package chainclient wraps ethclient.Client with two modes: plain
// request/response RPC, and a reconnecting pending-transaction
// subscription stream.
package chainclient

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ReconnectBackoff is the fixed backoff between subscription retries.
const ReconnectBackoff = 5 * time.Second

// Client is a thin, reconnect-aware wrapper over ethclient.Client.
type Client struct {
	rpcURL string
	wsURL  string
	log    zerolog.Logger

	http *ethclient.Client
	ws   *ethclient.Client
}

// Dial opens the HTTP leg immediately; the WebSocket leg is opened lazily
// by SubscribePendingTransactions so request/response callers never pay
// for a subscription they don't use.
func Dial(ctx context.Context, rpcURL, wsURL string, log zerolog.Logger) (*Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}
	return &Client{rpcURL: rpcURL, wsURL: wsURL, http: c, log: log.With().Str("component", "chainclient").Logger()}, nil
}

// Close releases both legs.
func (c *Client) Close() {
	if c.http != nil {
		c.http.Close()
	}
	if c.ws != nil {
		c.ws.Close()
	}
}

// BlockNumber maps to eth_blockNumber.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.http.BlockNumber(ctx)
}

// TransactionByHash maps to eth_getTransactionByHash. A nil transaction
// with a nil error means "not found" — a mempool propagation race, not an
// error.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, isPending, err := c.http.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get transaction")
	}
	return tx, isPending, nil
}

// CallContract performs eth_call against a view method, used by the
// Reserve View for getPair/getReserves/token0/token1.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := c.http.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, errors.Wrap(err, "eth_call")
	}
	return out, nil
}

// SuggestGasPrice maps to eth_gasPrice, used as a fallback fee hint.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.http.SuggestGasPrice(ctx)
}

// FeeHistory maps to eth_feeHistory for gas-price hinting.
func (c *Client) FeeHistory(ctx context.Context, blocks uint64, rewardPercentiles []float64) (*ethereum.FeeHistory, error) {
	return c.http.FeeHistory(ctx, blocks, nil, rewardPercentiles)
}

// PendingNonceAt maps to eth_getTransactionCount(pending) against the
// real chain node.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return c.http.PendingNonceAt(ctx, addr)
}

// SendTransaction maps to eth_sendRawTransaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return errors.Wrap(c.http.SendTransaction(ctx, tx), "send transaction")
}

// TransactionReceipt maps to eth_getTransactionReceipt.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.http.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return r, err
}

// ChainID maps to eth_chainId.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.http.ChainID(ctx)
}

// RawClient exposes the underlying *rpc.Client for the handful of
// non-standard methods (e.g. txpool_content) ethclient.Client doesn't
// wrap.
func (c *Client) RawClient() *rpc.Client {
	return c.http.Client()
}

// PendingTxStream delivers pending transaction hashes until ctx is
// cancelled. Subscription errors are sent on Errs; the caller owns
// re-subscription with backoff.
type PendingTxStream struct {
	Hashes chan common.Hash
	Errs   chan error
	sub    ethereum.Subscription
}

// Unsubscribe tears down the underlying subscription.
func (s *PendingTxStream) Unsubscribe() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}

// SubscribePendingTransactions opens (or reuses) the WebSocket leg and
// subscribes to eth_subscribe("newPendingTransactions"). The hash
// channel is bounded so a slow consumer can't grow it unboundedly.
func (c *Client) SubscribePendingTransactions(ctx context.Context) (*PendingTxStream, error) {
	if c.ws == nil {
		ws, err := ethclient.DialContext(ctx, c.wsURL)
		if err != nil {
			return nil, errors.Wrap(err, "dial ws")
		}
		c.ws = ws
	}

	hashes := make(chan common.Hash, 4096)
	sub, err := c.ws.Client().EthSubscribe(ctx, hashCh(hashes), "newPendingTransactions")
	if err != nil {
		return nil, errors.Wrap(err, "eth_subscribe")
	}

	errs := make(chan error, 1)
	go func() {
		err := <-sub.Err()
		errs <- err
	}()

	return &PendingTxStream{Hashes: hashes, Errs: errs, sub: sub}, nil
}

// hashCh adapts a channel of common.Hash to the interface{} channel
// go-ethereum's rpc client expects for EthSubscribe.
func hashCh(out chan common.Hash) chan<- common.Hash {
	return out
}

// IsKnownRouter reports whether addr matches one of the configured
// router addresses, case-insensitively.
func IsKnownRouter(addr common.Address, routers []common.Address) bool {
	for _, r := range routers {
		if strings.EqualFold(r.Hex(), addr.Hex()) {
			return true
		}
	}
	return false
}
