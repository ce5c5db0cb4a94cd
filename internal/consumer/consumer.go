// Package consumer implements the chain-follower state machine (spec
// §4.2): Initializing → Intersecting → Following → ForcedRollback →
// Following → …, terminal Stopped. Modeled on the teacher's
// FollowerIngesterService run-loop shape (Run loops run, backing off
// and logging on error) generalized from placeholder-height polling to
// folding real blocks into the storage engine.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/chainpoint"
	"github.com/kupo-index/kupo/internal/clock"
	"github.com/kupo-index/kupo/internal/codec"
	"github.com/kupo-index/kupo/internal/model"
	"github.com/kupo-index/kupo/internal/pattern"
	"github.com/kupo-index/kupo/internal/producer"
	"github.com/kupo-index/kupo/internal/registry"
	"github.com/kupo-index/kupo/internal/store"
	"zombiezen.com/go/sqlite"
)

// State names spec §4.2's state machine.
type State int

const (
	StateInitializing State = iota
	StateIntersecting
	StateFollowing
	StateForcedRollback
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateIntersecting:
		return "Intersecting"
	case StateFollowing:
		return "Following"
	case StateForcedRollback:
		return "ForcedRollback"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// retryBackoff is the pause between failed run iterations, mirroring
// the teacher's FollowerIngesterService.sleepDuration role.
const retryBackoff = 5 * time.Second

// Consumer drives the chain-follower state machine against a Producer,
// folding matched outputs into the Store and sampling the Registry only
// at block boundaries (spec §4.4 "the consumer samples the registry
// only at block boundaries").
type Consumer struct {
	logger          *zap.Logger
	producer        producer.Producer
	store           *store.Store
	registry        *registry.Registry
	since           chainpoint.Point
	longestRollback uint64

	rollbackCh chan *RollbackRequest

	state State
	tip   chainpoint.Point

	onHealth     func(connected bool, tip *chainpoint.Point)
	onCheckpoint func(cp *model.Checkpoint)
}

// Config configures a Consumer.
type Config struct {
	Producer        producer.Producer
	Store           *store.Store
	Registry        *registry.Registry
	Since           chainpoint.Point
	LongestRollback uint64
	Logger          *zap.Logger
	OnHealth        func(connected bool, tip *chainpoint.Point)
	// OnCheckpoint is called with the new most-recent checkpoint every
	// time the tip moves: on roll-forward, roll-backward, and forced
	// rollback (spec §4.5 "updated on every block ingest"). nil on
	// roll-backward to origin.
	OnCheckpoint func(cp *model.Checkpoint)
}

// New builds a Consumer in StateInitializing.
func New(cfg Config) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		logger:          logger.Named("consumer"),
		producer:        cfg.Producer,
		store:           cfg.Store,
		registry:        cfg.Registry,
		since:           cfg.Since,
		longestRollback: cfg.LongestRollback,
		rollbackCh:      make(chan *RollbackRequest, 1),
		state:           StateInitializing,
		onHealth:        cfg.OnHealth,
		onCheckpoint:    cfg.OnCheckpoint,
	}
}

// RequestForcedRollback enqueues a forced-rollback request for the
// consumer to service at its next safe boundary (spec §4.2
// "ForcedRollback"). Only one outstanding request is supported at a
// time, matching the single forced-rollback-in-flight assumption of
// `PUT /patterns` (the HTTP handler itself serializes pattern
// mutations).
func (c *Consumer) RequestForcedRollback(req *RollbackRequest) {
	c.rollbackCh <- req
}

// State reports the consumer's current state, for health reporting.
func (c *Consumer) State() State { return c.state }

// Tip reports the most recently followed point.
func (c *Consumer) Tip() chainpoint.Point { return c.tip }

// Run drives the state machine until ctx is canceled or a fatal error
// occurs, following the teacher's "loop run(), back off and log on
// error" shape.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.state = StateStopped
			return err
		}

		switch c.state {
		case StateInitializing, StateIntersecting:
			if err := c.intersect(ctx); err != nil {
				c.logger.Error("intersect failed", zap.Error(err))
				c.reportHealth(false)
				if sleepErr := clock.SleepWithContext(ctx, retryBackoff); sleepErr != nil {
					c.state = StateStopped
					return sleepErr
				}
				continue
			}
			c.reportHealth(true)
			c.state = StateFollowing

		case StateFollowing:
			if err := c.followOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					c.state = StateStopped
					return err
				}
				c.logger.Warn("follow iteration failed, backing off", zap.Error(err))
				c.reportHealth(false)
				if sleepErr := clock.SleepWithContext(ctx, retryBackoff); sleepErr != nil {
					c.state = StateStopped
					return sleepErr
				}
				continue
			}
			c.reportHealth(true)

		case StateForcedRollback:
			// Entered only transiently inside followOnce; Run never
			// observes this state directly.
			c.state = StateFollowing

		case StateStopped:
			return nil
		}
	}
}

func (c *Consumer) intersect(ctx context.Context) error {
	var candidates []chainpoint.Point
	if err := c.store.Checkpoints(ctx, func(cp model.Checkpoint) error {
		p, err := cp.Point()
		if err != nil {
			return err
		}
		candidates = append(candidates, p)
		return nil
	}); err != nil {
		return fmt.Errorf("consumer: load checkpoint candidates: %w", err)
	}

	if len(candidates) == 0 {
		candidates = []chainpoint.Point{c.since}
	}

	agreed, err := c.producer.FindIntersect(ctx, candidates)
	if err != nil {
		if errors.Is(err, apperr.ErrIntersectionNotFound) && !c.since.IsOrigin() {
			agreed, err = c.producer.FindIntersect(ctx, []chainpoint.Point{c.since})
		}
		if err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrIntersectionNotFound, err)
		}
	}

	c.tip = agreed
	c.logger.Info("intersected with producer", zap.String("point", agreed.String()))
	return nil
}

// nextResult carries RequestNext's outcome back from the background
// goroutine followOnce runs it in.
type nextResult struct {
	event producer.Event
	err   error
}

// followOnce services exactly one event: a pending forced rollback, or
// the producer's next roll-forward/roll-backward event, whichever is
// ready first. RequestNext runs in its own goroutine so a forced
// rollback enqueued while the producer has nothing new to report is
// still serviced promptly, instead of waiting for the next block (spec
// §4.2 "ForcedRollback... entered at the next safe boundary").
func (c *Consumer) followOnce(ctx context.Context) error {
	resultCh := make(chan nextResult, 1)
	go func() {
		event, err := c.producer.RequestNext(ctx)
		resultCh <- nextResult{event: event, err: err}
	}()

	select {
	case req := <-c.rollbackCh:
		c.state = StateForcedRollback
		c.serviceForcedRollback(ctx, req)
		c.state = StateFollowing
		return nil
	case res := <-resultCh:
		if res.err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrProducerUnreachable, res.err)
		}
		if res.event.Rollback != nil {
			return c.rollBackward(ctx, *res.event.Rollback)
		}
		if res.event.Block != nil {
			return c.rollForward(ctx, *res.event.Block)
		}
		return nil
	}
}

func (c *Consumer) rollForward(ctx context.Context, block producer.Block) error {
	patterns := c.registry.Snapshot()

	err := c.store.WriteLongLived(ctx, func(conn *sqlite.Conn) error {
		for _, spent := range block.Spent {
			ref := model.OutputReference{TxID: spent.TxID, Index: spent.Index}
			if err := store.MarkSpent(conn, ref, block.Point.Slot, block.Point.Hash[:], spent.SpentByTxID); err != nil {
				return err
			}
		}

		for _, out := range block.Outputs {
			fields, err := pattern.FieldsFromAddress(out.Address)
			if err != nil {
				return err
			}
			fields.TxID = out.TxID
			fields.OutputIndex = out.Index

			matched := false
			for _, p := range patterns {
				if p.Matches(fields) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}

			value, err := codec.DecodeValue(out.Value)
			if err != nil {
				return fmt.Errorf("consumer: decode output value: %w", err)
			}
			assets := make([]model.AssetQuantity, len(value.Assets))
			for i, a := range value.Assets {
				assets[i] = model.AssetQuantity{PolicyID: a.PolicyID, AssetName: a.AssetName, Quantity: a.Quantity}
			}

			in := model.Input{
				OutputReference:     model.OutputReference{TxID: out.TxID, Index: out.Index},
				Address:             out.Address,
				PaymentCred:         fields.Payment,
				DelegationCred:      fields.Delegation,
				Value:               out.Value,
				Assets:              assets,
				DatumHash:           out.DatumHash,
				CreatedAtSlot:       block.Point.Slot,
				CreatedAtHeaderHash: block.Point.Hash[:],
				CreatedAtTxID:       out.TxID,
			}
			if err := store.InsertInput(conn, in); err != nil {
				return err
			}

			if len(out.DatumHash) > 0 && len(out.Datum) > 0 {
				if err := store.InsertBinaryData(conn, model.BinaryData{Hash: out.DatumHash, Bytes: out.Datum}); err != nil {
					return err
				}
			}
			if len(out.ScriptHash) > 0 && len(out.Script) > 0 {
				if err := store.InsertScript(conn, model.Script{Hash: out.ScriptHash, Bytes: out.Script, Language: out.ScriptLanguage}); err != nil {
					return err
				}
			}
		}

		return store.InsertCheckpoint(conn, model.Checkpoint{Slot: block.Point.Slot, Hash: block.Point.Hash[:]}, c.longestRollback)
	})
	if err != nil {
		return fmt.Errorf("consumer: fold block at %s: %w", block.Point.String(), err)
	}

	c.tip = block.Point
	c.reportCheckpoint(&model.Checkpoint{Slot: block.Point.Slot, Hash: block.Point.Hash[:]})
	return nil
}

func (c *Consumer) rollBackward(ctx context.Context, p chainpoint.Point) error {
	tip, err := c.store.RollbackTo(ctx, p)
	if err != nil {
		return fmt.Errorf("consumer: rollback to %s: %w", p.String(), err)
	}
	if tip != nil {
		if pt, err := tip.Point(); err == nil {
			c.tip = pt
		}
	} else {
		c.tip = chainpoint.Origin
	}
	c.reportCheckpoint(tip)
	return nil
}

func (c *Consumer) serviceForcedRollback(ctx context.Context, req *RollbackRequest) {
	tip, err := c.store.ForcedRollback(ctx, req.Point, req.AllowUnsafe, c.longestRollback)
	if err != nil {
		req.fulfil(RollbackResult{Err: err})
		return
	}

	newTip := chainpoint.Origin
	if tip != nil {
		if pt, perr := tip.Point(); perr == nil {
			newTip = pt
		}
	}
	c.tip = newTip
	c.reportCheckpoint(tip)
	req.fulfil(RollbackResult{NewTip: newTip})
}

func (c *Consumer) reportHealth(connected bool) {
	if c.onHealth == nil {
		return
	}
	tip := c.tip
	c.onHealth(connected, &tip)
}

func (c *Consumer) reportCheckpoint(cp *model.Checkpoint) {
	if c.onCheckpoint == nil {
		return
	}
	c.onCheckpoint(cp)
}
