package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-rate-engine/internal/alerting"
	"lending-rate-engine/internal/config"
	"lending-rate-engine/internal/interest"
	"lending-rate-engine/internal/pool"
	"lending-rate-engine/internal/scheduler"
	"lending-rate-engine/internal/storage"
)

// Service orchestrates the accrual loop: fetch pool state, advance each
// asset's curve, persist the outcome, and alert on saturation.
type Service struct {
	scheduler *scheduler.Scheduler
	registry  *interest.Registry
	cap       interest.Capability
	fetcher   pool.StateFetcher
	bindings  []pool.Binding
	states    storage.CurveStateStore
	samples   storage.AccrualSampleStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64

	// lastSeen is the per-asset pool timestamp watermark; a fetched state
	// older than the watermark is dropped so no window is consumed twice.
	lastSeen map[string]uint64
}

// New constructs the accrual service.
func New(cfg *config.Config, sched *scheduler.Scheduler, registry *interest.Registry, cap interest.Capability, fetcher pool.StateFetcher, states storage.CurveStateStore, samples storage.AccrualSampleStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	bindings := make([]pool.Binding, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		bindings = append(bindings, pool.Binding{Key: asset.Key, Contract: asset.Contract})
	}

	var locker storage.AdvisoryLocker
	if l, ok := states.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		registry:  registry,
		cap:       cap,
		fetcher:   fetcher,
		bindings:  bindings,
		states:    states,
		samples:   samples,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		lastSeen:  make(map[string]uint64, len(cfg.Assets)),
	}
}

// Bootstrap registers configured assets and rehydrates persisted curve
// state so a restart continues exactly where the last run stopped.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, binding := range s.bindings {
		if err := s.registry.NewAsset(s.cap, binding.Key); err != nil {
			return fmt.Errorf("register asset %q: %w", binding.Key, err)
		}
	}

	if s.states == nil {
		return nil
	}

	persisted, err := s.states.ListCurveStates(ctx)
	if err != nil {
		return fmt.Errorf("load curve states: %w", err)
	}

	known := make(map[string]struct{}, len(s.bindings))
	for _, binding := range s.bindings {
		known[binding.Key] = struct{}{}
	}

	for _, state := range persisted {
		if _, ok := known[state.AssetKey]; !ok {
			s.logger.Warn().Str("asset", state.AssetKey).Msg("persisted curve state has no configured asset; skipping")
			continue
		}

		var params interest.CurveParams
		if err := json.Unmarshal(state.Params, &params); err != nil {
			return fmt.Errorf("decode params for %q: %w", state.AssetKey, err)
		}
		if err := s.registry.SetConfig(s.cap, state.AssetKey, params); err != nil {
			return fmt.Errorf("restore params for %q: %w", state.AssetKey, err)
		}

		ri, err := uint256.FromDecimal(state.Ri.String())
		if err != nil {
			return fmt.Errorf("decode ri for %q: %w", state.AssetKey, err)
		}
		tcrit, err := uint256.FromDecimal(state.Tcrit.String())
		if err != nil {
			return fmt.Errorf("decode tcrit for %q: %w", state.AssetKey, err)
		}
		if err := s.registry.RestoreMemory(s.cap, state.AssetKey, ri, tcrit); err != nil {
			return fmt.Errorf("restore memory for %q: %w", state.AssetKey, err)
		}

		if state.LastUpdated > 0 {
			s.lastSeen[state.AssetKey] = uint64(state.LastUpdated)
		}
		s.logger.Info().Str("asset", state.AssetKey).Msg("curve state rehydrated")
	}
	return nil
}

// Run begins the scheduled accrual loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket executes one accrual pass over all configured assets.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var firstErr error
	for _, binding := range s.bindings {
		if err := s.processAsset(ctx, bucket, binding); err != nil {
			s.logger.Error().Err(err).Str("asset", binding.Key).Time("bucket", bucket).Msg("accrual failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) processAsset(ctx context.Context, bucket time.Time, binding pool.Binding) error {
	state, err := s.fetcher.FetchState(ctx, binding)
	if err != nil {
		return fmt.Errorf("fetch pool state: %w", err)
	}

	last := s.lastSeen[binding.Key]
	if last == 0 {
		// First observation: there is no window to accrue yet, only a
		// watermark to establish.
		s.lastSeen[binding.Key] = state.Timestamp
		s.persistCurveState(ctx, binding.Key, state.Timestamp)
		s.logger.Info().Str("asset", binding.Key).Uint64("timestamp_us", state.Timestamp).Msg("watermark established")
		return nil
	}
	if state.Timestamp < last {
		s.logger.Warn().Str("asset", binding.Key).
			Uint64("timestamp_us", state.Timestamp).
			Uint64("watermark_us", last).
			Msg("pool state older than watermark; dropping")
		return nil
	}

	res, err := s.registry.Accrue(binding.Key, interest.AccrualSample{
		TotalDeposits: state.TotalDeposits,
		TotalBorrows:  state.TotalBorrows,
		LastUpdated:   last,
		Now:           state.Timestamp,
	})
	if err != nil {
		s.recordErroredSample(ctx, bucket, binding.Key, state, last, err)
		return fmt.Errorf("accrue: %w", err)
	}

	s.lastSeen[binding.Key] = state.Timestamp
	s.persistCurveState(ctx, binding.Key, state.Timestamp)

	elapsed := int64((state.Timestamp - last) / 1_000_000)
	util := interest.Utilization(state.TotalDeposits, state.TotalBorrows)

	if s.samples != nil {
		sample := storage.AccrualSample{
			Bucket:        bucket,
			AssetKey:      binding.Key,
			TotalDeposits: decimal.RequireFromString(state.TotalDeposits.Dec()),
			TotalBorrows:  decimal.RequireFromString(state.TotalBorrows.Dec()),
			Utilization:   decimal.NewFromInt(int64(util)),
			Rcomp:         decimal.RequireFromString(res.Rcomp.Dec()),
			Ri:            decimal.RequireFromString(res.Ri.Dec()),
			Tcrit:         decimal.RequireFromString(res.Tcrit.Dec()),
			ElapsedSecs:   elapsed,
			Overflow:      res.Overflow,
			Status:        "complete",
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.samples.UpsertAccrualSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Str("asset", binding.Key).Msg("failed to persist accrual sample")
		}
	}

	s.logger.Info().
		Str("asset", binding.Key).
		Uint64("utilization", util).
		Str("rcomp", res.Rcomp.Dec()).
		Bool("overflow", res.Overflow).
		Int64("elapsed_secs", elapsed).
		Msg("accrual recorded")

	if res.Overflow && s.alertsOn && s.notifier != nil {
		note := alerting.Notification{
			AssetKey:    binding.Key,
			Bucket:      bucket,
			Utilization: decimal.NewFromInt(int64(util)),
			Rcomp:       decimal.RequireFromString(res.Rcomp.Dec()),
			ElapsedSecs: elapsed,
			Channels:    s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("asset", binding.Key).Msg("failed to dispatch overflow alert")
		}
	}

	return nil
}

func (s *Service) persistCurveState(ctx context.Context, key string, timestamp uint64) {
	if s.states == nil {
		return
	}
	cfg, err := s.registry.Config(key)
	if err != nil {
		s.logger.Error().Err(err).Str("asset", key).Msg("failed to read curve for persistence")
		return
	}
	params, err := json.Marshal(cfg.Params)
	if err != nil {
		s.logger.Error().Err(err).Str("asset", key).Msg("failed to encode curve params")
		return
	}
	record := storage.CurveState{
		AssetKey:    key,
		Params:      params,
		Ri:          decimal.RequireFromString(cfg.Ri.Dec()),
		Tcrit:       decimal.RequireFromString(cfg.Tcrit.Dec()),
		LastUpdated: int64(timestamp),
	}
	if err := s.states.UpsertCurveState(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("asset", key).Msg("failed to persist curve state")
	}
}

func (s *Service) recordErroredSample(ctx context.Context, bucket time.Time, key string, state pool.State, last uint64, cause error) {
	if s.samples == nil {
		return
	}
	msg := cause.Error()
	elapsed := int64(0)
	if state.Timestamp > last {
		elapsed = int64((state.Timestamp - last) / 1_000_000)
	}
	sample := storage.AccrualSample{
		Bucket:        bucket,
		AssetKey:      key,
		TotalDeposits: decimal.RequireFromString(state.TotalDeposits.Dec()),
		TotalBorrows:  decimal.RequireFromString(state.TotalBorrows.Dec()),
		Utilization:   decimal.NewFromInt(int64(interest.Utilization(state.TotalDeposits, state.TotalBorrows))),
		ElapsedSecs:   elapsed,
		Status:        "errored",
		Error:         &msg,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.samples.UpsertAccrualSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("asset", key).Msg("failed to persist errored sample")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
