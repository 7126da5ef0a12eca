package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/avolkov/rewarding-system/internal/model"
	"github.com/avolkov/rewarding-system/internal/notifier"
)

// SendFreeRewards рассылает участникам уведомления о накопленных
// вознаграждениях. Письмо уходит, только когда накопилось достаточно
// вознаграждений либо участник слишком долго не получал писем; это
// защита от ежедневного почтового спама с гарантией доставки рано
// или поздно. Сбой доставки одному участнику не прерывает рассылку.
func (s *Service) SendFreeRewards(ctx context.Context, now time.Time) error {
	if s.notifier == nil {
		s.logger.Warn("notifier is not configured, skipping reward mailing")
		return nil
	}

	memberIDs, err := s.repo.GetPreparedMemberIDs(ctx)
	if err != nil {
		return err
	}

	sent := 0
	for _, memberID := range memberIDs {
		ok, err := s.notifyMember(ctx, memberID, now)
		if err != nil {
			s.logger.Error("reward notification failed",
				zap.Int64("member", memberID),
				zap.Error(err))
			continue
		}
		if ok {
			sent++
		}
	}

	s.logger.Info("free rewards sent",
		zap.Int("candidates", len(memberIDs)),
		zap.Int("notified", sent))
	return nil
}

// shouldNotify решает, пора ли отправлять участнику письмо: либо
// накопилось не меньше MinForSending вознаграждений, либо с последнего
// начисления прошло не меньше MaxNoRewardMailDays дней.
func (s *Service) shouldNotify(preparedCount int, lastPrepared time.Time, now time.Time) bool {
	if preparedCount >= s.cfg.MinForSending {
		return true
	}
	days := int(now.Sub(lastPrepared).Hours() / 24)
	return days >= s.cfg.MaxNoRewardMailDays
}

// notifyMember отправляет одному участнику сводку его накопленных
// вознаграждений, сгруппированных по операторам, и помечает их
// отправленными одним пакетом. При сбое доставки вознаграждения
// остаются накопленными и будут отправлены на следующем прогоне
// по правилу давности.
func (s *Service) notifyMember(ctx context.Context, memberID int64, now time.Time) (bool, error) {
	rewards, err := s.repo.GetPreparedRewards(ctx, memberID)
	if err != nil {
		return false, err
	}
	if len(rewards) == 0 {
		return false, nil
	}

	last := rewards[0].CreatedAt
	for _, rw := range rewards {
		if rw.CreatedAt.After(last) {
			last = rw.CreatedAt
		}
	}

	if !s.shouldNotify(len(rewards), last, now) {
		return false, nil
	}

	member, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return false, err
	}

	groups, err := s.groupRewardsByOperator(ctx, rewards)
	if err != nil {
		return false, err
	}

	if member.Email == "" && member.Phone == "" {
		// Уведомить некуда: помечаем отправленным, чтобы не
		// перебирать участника на каждом прогоне.
		s.logger.Warn("member has no contact channel", zap.Int64("member", memberID))
		return true, s.repo.MarkRewardsSent(ctx, memberID)
	}

	if err := s.notifier.SendRewardNotice(ctx, member, groups); err != nil {
		s.logger.Error("reward notice delivery failed",
			zap.Int64("member", memberID),
			zap.String("email", member.Email),
			zap.Int("rewards", len(rewards)),
			zap.Error(err))
		return false, nil
	}

	if err := s.repo.MarkRewardsSent(ctx, memberID); err != nil {
		return false, err
	}

	s.logger.Info("reward notice sent",
		zap.Int64("member", memberID),
		zap.Int("rewards", len(rewards)))
	return true, nil
}

// groupRewardsByOperator собирает вознаграждения участника в группы
// по операторам для компоновки одного письма.
func (s *Service) groupRewardsByOperator(ctx context.Context, rewards []model.Reward) ([]notifier.RewardGroup, error) {
	byOperator := make(map[int64]*notifier.RewardGroup)
	order := make([]int64, 0, len(rewards))

	for _, rw := range rewards {
		group, ok := byOperator[rw.OperatorID]
		if !ok {
			op, err := s.repo.GetOperator(ctx, rw.OperatorID)
			if err != nil {
				return nil, err
			}
			group = &notifier.RewardGroup{OperatorName: op.Name}
			byOperator[rw.OperatorID] = group
			order = append(order, rw.OperatorID)
		}

		coupon, err := s.repo.GetCoupon(ctx, rw.CouponID)
		if err != nil {
			return nil, err
		}
		group.Items = append(group.Items, notifier.RewardItem{
			CouponName: coupon.Name,
			Count:      rw.Count,
		})
	}

	groups := make([]notifier.RewardGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byOperator[id])
	}
	return groups, nil
}
