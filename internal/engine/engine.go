// Package engine ties the market pools, the request routers and the vault
// together behind a single-writer facade. Every state mutation runs under
// one mutex, so pool code never needs its own locking, and every mutation
// happens at a well-defined block height supplied by the engine itself.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/event"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
	"github.com/EquationDAO/equation-contracts-sub001/internal/observability"
	"github.com/EquationDAO/equation-contracts-sub001/internal/pool"
	"github.com/EquationDAO/equation-contracts-sub001/internal/router"
	"github.com/EquationDAO/equation-contracts-sub001/internal/vault"
)

// Config holds the engine-level parameters. Router carries the shared
// delay and fee settings for both the position router and the order book.
type Config struct {
	Router router.Config

	// BlockInterval is the cadence of the internal block producer. Each
	// tick advances the block number and runs the funding sampler.
	BlockInterval time.Duration

	// MulticallChunk bounds how many requests per queue a single keeper
	// pass may execute.
	MulticallChunk uint64
}

// Engine is the serialized protocol core. The persist channel uses
// blocking sends so no event is lost; the projection and publish channels
// drop on full, their consumers rebuild from the persisted log.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger

	now         func() time.Time
	blockNumber atomic.Uint64
	sequence    int64

	vault  *vault.Vault
	escrow *vault.Escrow
	access *router.AccessControl

	pools          map[uuid.UUID]*pool.Pool
	feeds          map[uuid.UUID]pool.PriceFeed
	positionRouter *router.PositionRouter
	orderBook      *router.OrderBook
	assistant      *router.ExecutorAssistant

	metrics *observability.Metrics

	persistChan chan<- event.Envelope
	projectChan chan<- event.Envelope
	publishChan chan<- event.Envelope
}

// Options carries the optional collaborators. Nil channels disable the
// corresponding output, a nil metrics disables instrumentation and a nil
// Now falls back to wall-clock time.
type Options struct {
	Now         func() time.Time
	Metrics     *observability.Metrics
	PersistChan chan<- event.Envelope
	ProjectChan chan<- event.Envelope
	PublishChan chan<- event.Envelope
}

func New(cfg Config, v *vault.Vault, logger zerolog.Logger, opts Options) *Engine {
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = time.Second
	}
	if cfg.MulticallChunk == 0 {
		cfg.MulticallChunk = 32
	}

	e := &Engine{
		cfg:         cfg,
		log:         logger.With().Str("component", "engine").Logger(),
		now:         opts.Now,
		vault:       v,
		escrow:      vault.NewEscrow(v, uuid.New()),
		access:      router.NewAccessControl(),
		pools:       make(map[uuid.UUID]*pool.Pool),
		feeds:       make(map[uuid.UUID]pool.PriceFeed),
		metrics:     opts.Metrics,
		persistChan: opts.PersistChan,
		projectChan: opts.ProjectChan,
		publishChan: opts.PublishChan,
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.positionRouter = router.NewPositionRouter(cfg.Router, e, e.escrow, e, e.access, logger)
	e.orderBook = router.NewOrderBook(cfg.Router, e, e.escrow, e, e.access, logger)
	e.assistant = router.NewExecutorAssistant(e.positionRouter)
	return e
}

// BlockNumber implements router.Chain.
func (e *Engine) BlockNumber() uint64 { return e.blockNumber.Load() }

// Timestamp implements router.Chain and pool.Clock.
func (e *Engine) Timestamp() int64 { return e.now().Unix() }

// Market implements router.MarketRegistry.
func (e *Engine) Market(id uuid.UUID) (router.Market, bool) {
	p, ok := e.pools[id]
	return p, ok
}

// CreatePool registers a new market. The pool shares the engine's clock so
// funding windows and request deadlines observe the same time.
func (e *Engine) CreatePool(id uuid.UUID, cfg pool.Config, feed pool.PriceFeed) *pool.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := pool.New(id, cfg, feed, e, e.log)
	e.pools[id] = p
	e.feeds[id] = feed
	e.log.Info().Str("pool", id.String()).Msg("pool created")
	return p
}

// Pool returns the pool for id, or nil.
func (e *Engine) Pool(id uuid.UUID) *pool.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools[id]
}

// PoolIDs returns the registered pool IDs in arbitrary order.
func (e *Engine) PoolIDs() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(e.pools))
	for id := range e.pools {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) Vault() *vault.Vault                  { return e.vault }
func (e *Engine) EscrowAccount() uuid.UUID             { return e.escrow.Account() }
func (e *Engine) Router() *router.PositionRouter       { return e.positionRouter }
func (e *Engine) OrderBook() *router.OrderBook         { return e.orderBook }
func (e *Engine) Assistant() *router.ExecutorAssistant { return e.assistant }

// SetExecutor grants or revokes keeper status.
func (e *Engine) SetExecutor(account uuid.UUID, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.access.SetExecutor(account, enabled)
}

// UpdateDelayValues reconfigures the execution delay windows on both the
// position router and the order book.
func (e *Engine) UpdateDelayValues(minBlockDelayExecutor uint64, minTimeDelayPublic, maxTimeDelay int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.positionRouter.UpdateDelayValues(minBlockDelayExecutor, minTimeDelayPublic, maxTimeDelay); err != nil {
		return err
	}
	return e.orderBook.UpdateDelayValues(minBlockDelayExecutor, minTimeDelayPublic, maxTimeDelay)
}

func (e *Engine) ApprovePlugin(account, plugin uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.access.ApprovePlugin(account, plugin)
}

func (e *Engine) RevokePlugin(account, plugin uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.access.RevokePlugin(account, plugin)
}

// Run drives the block producer until ctx is cancelled. Each tick advances
// the block number and samples the funding rate on every pool.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.AdvanceBlock()
		}
	}
}

// AdvanceBlock increments the block number and runs the funding sampler on
// every pool, emitting FundingRateAdjusted for each closed window.
func (e *Engine) AdvanceBlock() uint64 {
	block := e.blockNumber.Add(1)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.EngineBlockHeight.Set(float64(block))
	}

	for id, p := range e.pools {
		id := id
		growth := p.SampleAndAdjustFundingRate()
		if growth == nil {
			continue
		}
		gp := p.GlobalPosition()
		e.emit(event.TypeFundingRateAdjusted, &id, nil, &event.FundingRateAdjusted{
			PoolID:                     id,
			ClampedFundingRateDeltaX96: growth.ClampedFundingRateDeltaX96.String(),
			LongGrowthX96:              gp.LongFundingRateGrowthX96.String(),
			ShortGrowthX96:             gp.ShortFundingRateGrowthX96.String(),
			PaidAmount:                 growth.PaidAmount.String(),
			ReceivedAmount:             growth.ReceivedAmount.String(),
			RiskBufferFundDelta:        growth.RiskBufferFundDelta.String(),
			LastAdjustTime:             p.FundingRateSample().LastAdjustFundingRateTime,
		})
		if e.metrics != nil {
			e.metrics.FundingAdjustments.WithLabelValues(id.String()).Inc()
		}
	}
	return block
}

// Liquidate forcibly closes an underwater position. The liquidation
// execution fee is paid to the liquidator out of the protocol escrow.
func (e *Engine) Liquidate(liquidator, poolID, account uuid.UUID, side model.Side) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.access.IsExecutor(liquidator) {
		return &router.ForbiddenError{}
	}
	p, ok := e.pools[poolID]
	if !ok {
		return &router.MarketNotFoundError{PoolID: poolID}
	}

	fee, err := p.LiquidatePosition(account, side)
	if err != nil {
		return err
	}
	if err := e.escrow.TransferOut(liquidator, fee); err != nil {
		e.log.Warn().Err(err).Str("liquidator", liquidator.String()).
			Msg("liquidation fee payout failed")
	}

	e.emit(event.TypePositionLiquidated, &poolID, &account, &event.PositionLiquidated{
		PoolID:       poolID,
		Account:      account,
		Side:         side.String(),
		Liquidator:   liquidator,
		ExecutionFee: fee.String(),
	})
	if e.metrics != nil {
		e.metrics.PositionsLiquidated.WithLabelValues(poolID.String()).Inc()
	}
	return nil
}

// emit assigns the next sequence and fans the envelope out. Callers hold
// e.mu, which serializes sequence assignment.
func (e *Engine) emit(t event.Type, poolID, account *uuid.UUID, payload interface{}) {
	env := event.Envelope{
		Sequence:  e.sequence,
		Type:      t,
		PoolID:    poolID,
		Account:   account,
		Timestamp: e.now(),
		Payload:   payload,
	}
	e.sequence++

	if e.persistChan != nil {
		// Blocking send. If the persistence worker stalls, so does the
		// engine; losing events is worse than pausing.
		e.persistChan <- env
	}
	if e.projectChan != nil {
		select {
		case e.projectChan <- env:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- env:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

// Sequence returns the next sequence number the engine will assign.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}
