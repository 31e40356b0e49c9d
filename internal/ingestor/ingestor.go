// Package ingestor implements the Mempool Ingestor: subscribe to pending
// transaction hashes, enrich each with decoded swap metadata, deduplicate,
// and publish to the Cache with bounded retention.
package ingestor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/thoerner/mev-bot/internal/cacheclient"
	"github.com/thoerner/mev-bot/internal/chainclient"
	"github.com/thoerner/mev-bot/internal/mevtypes"
	"github.com/thoerner/mev-bot/internal/swapdecode"
)

const (
	dedupCap      = 10000
	swapQueueCap  = 1000
	maintainEvery = 5 * time.Minute
)

// Config parameterizes the Ingestor's routers and TTLs.
type Config struct {
	Routers    []common.Address
	MempoolTTL time.Duration
}

// Ingestor owns its dedup set and subscription exclusively; no other
// component touches this state.
type Ingestor struct {
	chain   *chainclient.Client
	cache   *cacheclient.Client
	decoder *swapdecode.Decoder
	cfg     Config
	log     zerolog.Logger

	mu   sync.Mutex
	seen map[common.Hash]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Ingestor. decoder may be built once and shared; it is
// stateless after construction.
func New(chain *chainclient.Client, cache *cacheclient.Client, decoder *swapdecode.Decoder, cfg Config, log zerolog.Logger) *Ingestor {
	if cfg.MempoolTTL == 0 {
		cfg.MempoolTTL = 300 * time.Second
	}
	return &Ingestor{
		chain:   chain,
		cache:   cache,
		decoder: decoder,
		cfg:     cfg,
		log:     log.With().Str("component", "ingestor").Logger(),
		seen:    make(map[common.Hash]struct{}),
	}
}

// Start subscribes to pending transactions and begins processing. It
// returns once the subscription and maintenance loops are launched;
// reconnection happens in the background with a fixed backoff.
func (ing *Ingestor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	ing.cancel = cancel
	ing.done = make(chan struct{})

	go ing.maintainLoop(runCtx)
	go ing.subscribeLoop(runCtx)

	return nil
}

// Stop cancels the subscription and maintenance loops and waits briefly
// for in-flight enrichment to finish.
func (ing *Ingestor) Stop() {
	if ing.cancel == nil {
		return
	}
	ing.cancel()
	select {
	case <-ing.done:
	case <-time.After(5 * time.Second):
		ing.log.Warn().Msg("ingestor stop timed out waiting for in-flight work")
	}
}

func (ing *Ingestor) subscribeLoop(ctx context.Context) {
	defer close(ing.done)
	for {
		if ctx.Err() != nil {
			return
		}
		stream, err := ing.chain.SubscribePendingTransactions(ctx)
		if err != nil {
			ing.log.Error().Err(err).Msg("subscribe failed, retrying")
			if !sleepOrDone(ctx, chainclient.ReconnectBackoff) {
				return
			}
			continue
		}
		ing.drain(ctx, stream)
		if ctx.Err() != nil {
			return
		}
		ing.log.Warn().Msg("subscription dropped, reconnecting")
		if !sleepOrDone(ctx, chainclient.ReconnectBackoff) {
			return
		}
	}
}

func (ing *Ingestor) drain(ctx context.Context, stream *chainclient.PendingTxStream) {
	defer stream.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-stream.Errs:
			if err != nil {
				ing.log.Error().Err(err).Msg("subscription error")
			}
			return
		case hash := <-stream.Hashes:
			ing.process(ctx, hash)
		}
	}
}

// process looks up, enriches, and publishes one pending transaction
// hash. It never blocks past a single enrichment; the dedup
// short-circuit at the top keeps repeat hashes cheap.
func (ing *Ingestor) process(ctx context.Context, hash common.Hash) {
	if ing.alreadySeen(hash) {
		return
	}

	tx, _, err := ing.chain.TransactionByHash(ctx, hash)
	if err != nil {
		ing.log.Error().Err(err).Str("hash", hash.Hex()).Msg("lookup failed")
		return
	}
	if tx == nil {
		return // propagation race: drop silently
	}

	ing.markSeen(hash)

	enriched := ing.enrich(hash, tx)
	ing.publish(ctx, enriched)
}

func (ing *Ingestor) alreadySeen(hash common.Hash) bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	_, ok := ing.seen[hash]
	return ok
}

func (ing *Ingestor) markSeen(hash common.Hash) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if len(ing.seen) >= dedupCap {
		ing.seen = make(map[common.Hash]struct{}) // bounded memory, tolerates rare re-ingest
	}
	ing.seen[hash] = struct{}{}
}

// enrich turns a raw *types.Transaction into the immutable PendingTx
// record, decoding a swap call when the recipient matches a known
// router. A decode failure or an unknown selector simply leaves Swap
// nil — never an error.
func (ing *Ingestor) enrich(hash common.Hash, tx *types.Transaction) mevtypes.PendingTx {
	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		from = common.Address{}
	}

	pt := mevtypes.PendingTx{
		Hash:       hash,
		From:       from,
		To:         tx.To(),
		Value:      tx.Value(),
		Gas:        tx.Gas(),
		GasPrice:   tx.GasPrice(),
		GasFeeCap:  tx.GasFeeCap(),
		GasTipCap:  tx.GasTipCap(),
		Nonce:      tx.Nonce(),
		Data:       tx.Data(),
		IngestedAt: time.Now(),
	}

	to := tx.To()
	if to == nil {
		return pt // contract creation: enriched without decoded swap
	}
	if !chainclient.IsKnownRouter(*to, ing.cfg.Routers) {
		return pt
	}

	swap, err := ing.decoder.Decode(*to, tx.Data())
	if err != nil {
		ing.log.Info().Err(err).Str("hash", hash.Hex()).Msg("swap decode failed")
		return pt
	}
	pt.Swap = swap
	return pt
}

// publish writes the enriched transaction to the Cache. Cache write
// errors are logged and swallowed; the ingestor never stops on cache
// unavailability.
func (ing *Ingestor) publish(ctx context.Context, pt mevtypes.PendingTx) {
	body, err := marshal(pt)
	if err != nil {
		ing.log.Error().Err(err).Msg("marshal pending tx failed")
		return
	}

	ing.cache.SetWithTTL(ctx, "tx:"+pt.Hash.Hex(), body, ing.cfg.MempoolTTL)

	if pt.Swap != nil && pt.Swap.IsSwap {
		ing.cache.SetWithTTL(ctx, "swaps:"+pt.Hash.Hex(), body, ing.cfg.MempoolTTL)
		ing.cache.ListPushLeft(ctx, "swap_queue", pt.Hash.Hex())
		ing.cache.ListTrim(ctx, "swap_queue", 0, swapQueueCap-1)
	}
}

// GetPendingSwaps returns up to n of the most recently queued swap
// hashes' enriched transactions. A disconnected cache yields an empty
// slice, never an error.
func (ing *Ingestor) GetPendingSwaps(ctx context.Context, n int) []mevtypes.PendingTx {
	hashes := ing.cache.ListRange(ctx, "swap_queue", 0, int64(n)-1)
	out := make([]mevtypes.PendingTx, 0, len(hashes))
	for _, h := range hashes {
		raw, ok := ing.cache.Get(ctx, "swaps:"+h)
		if !ok {
			continue
		}
		var pt mevtypes.PendingTx
		if err := json.Unmarshal([]byte(raw), &pt); err != nil {
			continue
		}
		out = append(out, pt)
	}
	return out
}

// maintainLoop is belt-and-braces cleanup: every 5 minutes, scan this
// pipeline's keyspace prefix and delete entries whose TTL has lapsed.
func (ing *Ingestor) maintainLoop(ctx context.Context) {
	ticker := time.NewTicker(maintainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ing.sweepExpired(ctx)
		}
	}
}

func (ing *Ingestor) sweepExpired(ctx context.Context) {
	for _, prefix := range []string{"tx:", "swaps:"} {
		for _, key := range ing.cache.KeysByPrefix(ctx, prefix) {
			if ing.cache.TTL(ctx, key) <= 0 {
				ing.cache.Delete(ctx, key)
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func marshal(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}
