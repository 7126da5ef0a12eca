// Package cron содержит планировщик дневных запусков движка вознаграждений.
package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine определяет операции движка, запускаемые по расписанию.
type Engine interface {
	PrepareFreeRewards(ctx context.Context, now time.Time) error
	SendFreeRewards(ctx context.Context, now time.Time) error
	ResetMonthlyWinners(ctx context.Context) error
}

// Scheduler раз в сутки запускает распределение и рассылку вознаграждений.
// Переход на новый месяц обнуляет месячные счётчики победителей перед
// распределением.
type Scheduler struct {
	engine   Engine
	logger   *zap.Logger
	interval time.Duration
	nowFn    func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// NewScheduler создаёт планировщик с заданным интервалом проверки.
func NewScheduler(engine Engine, logger *zap.Logger, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		engine:   engine,
		logger:   logger,
		interval: interval,
		nowFn:    time.Now,
	}
}

// Run блокируется до отмены контекста, проверяя по тикеру, не наступил ли
// новый день. Первый запуск происходит сразу.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick выполняет дневной цикл, если с последнего запуска сменились сутки.
// Возвращает true, если цикл был запущен.
func (s *Scheduler) Tick(ctx context.Context) bool {
	now := s.nowFn()

	s.mu.Lock()
	if sameDay(s.lastRun, now) {
		s.mu.Unlock()
		return false
	}
	prev := s.lastRun
	s.lastRun = now
	s.mu.Unlock()

	if !prev.IsZero() && (prev.Month() != now.Month() || prev.Year() != now.Year()) {
		if err := s.engine.ResetMonthlyWinners(ctx); err != nil {
			s.logger.Error("monthly winners reset error", zap.Error(err))
		}
	}

	if err := s.engine.PrepareFreeRewards(ctx, now); err != nil {
		s.logger.Error("prepare rewards error", zap.Error(err))
	}

	if err := s.engine.SendFreeRewards(ctx, now); err != nil {
		s.logger.Error("send rewards error", zap.Error(err))
	}

	return true
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
