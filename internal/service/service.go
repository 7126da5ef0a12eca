// Package service реализует бизнес-логику движка вознаграждений.
package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/avolkov/rewarding-system/internal/config"
	"github.com/avolkov/rewarding-system/internal/model"
	"github.com/avolkov/rewarding-system/internal/notifier"
	"github.com/avolkov/rewarding-system/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый движком.
type Repository interface {
	Close() error

	GetActiveOperators(ctx context.Context, now time.Time) ([]model.Operator, error)
	GetOperator(ctx context.Context, id int64) (*model.Operator, error)
	GetMembers(ctx context.Context, operatorID int64, offset, limit int) ([]model.Member, error)
	GetMember(ctx context.Context, id int64) (*model.Member, error)
	IsMemberOf(ctx context.Context, operatorID, memberID int64) (bool, error)

	GetCoupons(ctx context.Context, operatorID int64, approvedOnly, activeOnly bool) ([]model.Coupon, error)
	GetCoupon(ctx context.Context, id int64) (*model.Coupon, error)
	SaveCoupon(ctx context.Context, c *model.Coupon) error
	IncrementMonthWinners(ctx context.Context, couponID int64) error
	AddTotalOffered(ctx context.Context, couponID int64, count int) error
	ResetMonthlyWinners(ctx context.Context) error
	MarkCouponDeleted(ctx context.Context, couponID int64) error

	FindJoinRewardPack(ctx context.Context, operatorID, couponID int64) (*model.JoinRewardPack, error)
	FindReferralRewardPack(ctx context.Context, operatorID, couponID int64) (*model.ReferralRewardPack, error)
	FindPaymentRewardPack(ctx context.Context, operatorID, couponID int64, amount float64) (*model.PaymentRewardPack, error)

	GetOrCreateProfile(ctx context.Context, operatorID, memberID int64, now time.Time) (*model.CRProfile, error)
	UpdateProfile(ctx context.Context, p *model.CRProfile) error
	SelectBackfillProfiles(ctx context.Context, operatorID int64, before time.Time, limit int) ([]model.CRProfile, error)

	GetLastReward(ctx context.Context, operatorID, memberID int64) (*model.Reward, error)
	CreateReward(ctx context.Context, rw *model.Reward) error
	UpsertPreparedReward(ctx context.Context, operatorID, memberID, couponID int64, rtype model.RewardType, count int, now time.Time) error
	GetPreparedMemberIDs(ctx context.Context) ([]int64, error)
	GetPreparedRewards(ctx context.Context, memberID int64) ([]model.Reward, error)
	MarkRewardsSent(ctx context.Context, memberID int64) error

	UpsertCumul(ctx context.Context, memberID, couponID int64, delta int) (int, error)
	GetCumul(ctx context.Context, memberID, couponID int64) (*model.CumulatedCoupon, error)
	GetMemberBalances(ctx context.Context, memberID int64) ([]repository.MemberBalance, error)
	GetCouponBalances(ctx context.Context, couponID int64, limit int) ([]model.CumulatedCoupon, error)
	DeleteCumul(ctx context.Context, id int64) error

	GetOrCreateSummary(ctx context.Context, operatorID, memberID int64) (*model.CouponSummary, error)
	AddToSummary(ctx context.Context, operatorID, memberID int64, delta int) error
	SetSummaryThreshold(ctx context.Context, operatorID, memberID int64, reached bool) error
	GetSummaries(ctx context.Context, memberID int64) ([]model.CouponSummary, error)

	EnsureWinner(ctx context.Context, memberID, couponID int64) error
	CollectWinner(ctx context.Context, memberID, couponID int64) error
	DeleteUncollectedWinners(ctx context.Context, couponID int64) error
	GetPendingWinners(ctx context.Context, operatorID int64) ([]model.CouponWinner, error)

	CreateCouponUse(ctx context.Context, u *model.CouponUse) error
}

// Notifier описывает контракт доставки уведомлений о вознаграждениях.
type Notifier interface {
	SendRewardNotice(ctx context.Context, member *model.Member, groups []notifier.RewardGroup) error
}

// Service содержит бизнес-логику движка вознаграждений.
type Service struct {
	repo     Repository
	notifier Notifier
	cfg      config.Rewarding
	logger   *zap.Logger
	rng      *rand.Rand
}

// NewService создаёт новый движок с указанным репозиторием и каналом уведомлений.
// Генератор случайных чисел передаётся извне, чтобы прогон был воспроизводимым в тестах.
func NewService(repo Repository, n Notifier, cfg config.Rewarding, logger *zap.Logger, rng *rand.Rand) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{
		repo:     repo,
		notifier: n,
		cfg:      cfg,
		logger:   logger,
		rng:      rng,
	}
}

// Close закрывает ресурсы движка.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ResetMonthlyWinners обнуляет месячные счётчики победителей всех купонов.
// Вызывается при смене календарного месяца.
func (s *Service) ResetMonthlyWinners(ctx context.Context) error {
	if err := s.repo.ResetMonthlyWinners(ctx); err != nil {
		return err
	}
	s.logger.Info("monthly winner counters reset")
	return nil
}

// SaveCoupon создаёт или обновляет купон оператора. Коэффициент всегда
// выводится из типа, переданное значение игнорируется.
func (s *Service) SaveCoupon(ctx context.Context, c *model.Coupon) error {
	if c.HeapSize <= 0 {
		return errors.New("coupon heap size must be positive")
	}
	if c.MonthQuota < 0 {
		return errors.New("coupon month quota must not be negative")
	}
	if _, err := s.repo.GetOperator(ctx, c.OperatorID); err != nil {
		return err
	}
	return s.repo.SaveCoupon(ctx, c)
}

// GetCouponSummaries возвращает агрегаты купонов участника по всем операторам.
func (s *Service) GetCouponSummaries(ctx context.Context, memberID int64) ([]model.CouponSummary, error) {
	return s.repo.GetSummaries(ctx, memberID)
}

// GetPendingWinners возвращает несобранные отметки победителей по купонам оператора.
func (s *Service) GetPendingWinners(ctx context.Context, operatorID int64) ([]model.CouponWinner, error) {
	return s.repo.GetPendingWinners(ctx, operatorID)
}

// applyDelta изменяет накопленный остаток участника по купону, синхронно
// двигает агрегат оператора и фиксирует достижение порога.
// Возвращает новое значение остатка.
func (s *Service) applyDelta(ctx context.Context, operatorID int64, memberID int64, coupon *model.Coupon, delta int) (int, error) {
	count, err := s.repo.UpsertCumul(ctx, memberID, coupon.ID, delta)
	if err != nil {
		return 0, err
	}

	if err := s.repo.AddToSummary(ctx, operatorID, memberID, delta); err != nil {
		return 0, err
	}

	if count >= coupon.HeapSize {
		if err := s.repo.EnsureWinner(ctx, memberID, coupon.ID); err != nil {
			return 0, err
		}
		if err := s.repo.SetSummaryThreshold(ctx, operatorID, memberID, true); err != nil {
			return 0, err
		}
	}

	return count, nil
}

// recomputeThreshold заново вычисляет признак достижения порога участника
// по всем его остаткам и сохраняет его в агрегате оператора.
func (s *Service) recomputeThreshold(ctx context.Context, operatorID, memberID int64) error {
	balances, err := s.repo.GetMemberBalances(ctx, memberID)
	if err != nil {
		return err
	}

	reached := false
	for _, b := range balances {
		if b.Count >= b.HeapSize {
			reached = true
			break
		}
	}

	return s.repo.SetSummaryThreshold(ctx, operatorID, memberID, reached)
}
