package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/avolkov/rewarding-system/internal/model"
	"github.com/avolkov/rewarding-system/internal/repository"
)

// RewardForJoin начисляет участнику стартовые наборы купонов за вступление
// в сообщество оператора. Возвращает суммарное число начисленных купонов.
// Если у оператора нет активного профиля, начисление не выполняется.
func (s *Service) RewardForJoin(ctx context.Context, operatorID, memberID int64, now time.Time) (int, error) {
	return s.rewardByPacks(ctx, operatorID, memberID, model.RewardTypeJoin, now,
		func(ctx context.Context, op *model.Operator, coupon *model.Coupon) (int, error) {
			pack, err := s.repo.FindJoinRewardPack(ctx, op.ID, coupon.ID)
			if err != nil || pack == nil {
				return 0, err
			}
			return pack.Count, nil
		})
}

// RewardForReferral начисляет участнику наборы купонов за приглашение
// нового участника в сообщество оператора.
func (s *Service) RewardForReferral(ctx context.Context, operatorID, memberID int64, now time.Time) (int, error) {
	return s.rewardByPacks(ctx, operatorID, memberID, model.RewardTypeReferral, now,
		func(ctx context.Context, op *model.Operator, coupon *model.Coupon) (int, error) {
			pack, err := s.repo.FindReferralRewardPack(ctx, op.ID, coupon.ID)
			if err != nil || pack == nil {
				return 0, err
			}
			return pack.Count, nil
		})
}

// RewardForPayment начисляет участнику купоны за онлайн-платёж указанной
// суммы. Набор подбирается по интервалу, в который попадает сумма.
func (s *Service) RewardForPayment(ctx context.Context, operatorID, memberID int64, amount float64, objectID string, now time.Time) (int, error) {
	op, err := s.activeOperator(ctx, operatorID)
	if err != nil || op == nil {
		return 0, err
	}

	profile, err := s.repo.GetOrCreateProfile(ctx, op.ID, memberID, now)
	if err != nil {
		return 0, err
	}
	if _, err := s.repo.GetOrCreateSummary(ctx, op.ID, memberID); err != nil {
		return 0, err
	}

	coupons, err := s.repo.GetCoupons(ctx, op.ID, true, true)
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range coupons {
		pack, err := s.repo.FindPaymentRewardPack(ctx, op.ID, coupons[i].ID, amount)
		if err != nil {
			return total, err
		}
		if pack == nil || pack.Count <= 0 {
			continue
		}

		rw := &model.Reward{
			OperatorID: op.ID,
			MemberID:   memberID,
			CouponID:   coupons[i].ID,
			Count:      pack.Count,
			Type:       model.RewardTypePayment,
			Status:     model.RewardStatusPrepared,
			Amount:     &amount,
			ObjectID:   objectID,
			CreatedAt:  now,
		}
		if err := s.repo.CreateReward(ctx, rw); err != nil {
			return total, err
		}
		if _, err := s.applyDelta(ctx, op.ID, memberID, &coupons[i], pack.Count); err != nil {
			return total, err
		}
		if err := s.repo.AddTotalOffered(ctx, coupons[i].ID, pack.Count); err != nil {
			return total, err
		}

		profile.CouponScore += pack.Count * coupons[i].Coefficient
		total += pack.Count
	}

	if total > 0 {
		profile.RewardScore = model.RewardScorePayment
		profile.LastRewardDate = now
	}
	if err := s.repo.UpdateProfile(ctx, profile); err != nil {
		return total, err
	}

	return total, nil
}

// RewardManual начисляет участнику указанное число купонов вручную,
// например по решению оператора.
func (s *Service) RewardManual(ctx context.Context, operatorID, memberID, couponID int64, count int, now time.Time) error {
	op, err := s.activeOperator(ctx, operatorID)
	if err != nil {
		return err
	}
	if op == nil {
		return repository.ErrOperatorNotFound
	}

	coupon, err := s.repo.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}

	profile, err := s.repo.GetOrCreateProfile(ctx, op.ID, memberID, now)
	if err != nil {
		return err
	}
	if _, err := s.repo.GetOrCreateSummary(ctx, op.ID, memberID); err != nil {
		return err
	}

	if err := s.repo.UpsertPreparedReward(ctx, op.ID, memberID, coupon.ID, model.RewardTypeManual, count, now); err != nil {
		return err
	}
	if _, err := s.applyDelta(ctx, op.ID, memberID, coupon, count); err != nil {
		return err
	}
	if err := s.repo.AddTotalOffered(ctx, coupon.ID, count); err != nil {
		return err
	}

	profile.CouponScore += count * coupon.Coefficient
	profile.RewardScore = model.RewardScoreManual
	profile.LastRewardDate = now
	return s.repo.UpdateProfile(ctx, profile)
}

// rewardByPacks начисляет участнику наборы купонов одного типа события
// по каждому купону оператора, у которого такой набор настроен.
func (s *Service) rewardByPacks(ctx context.Context, operatorID, memberID int64, rtype model.RewardType, now time.Time,
	packCount func(ctx context.Context, op *model.Operator, coupon *model.Coupon) (int, error)) (int, error) {

	op, err := s.activeOperator(ctx, operatorID)
	if err != nil || op == nil {
		return 0, err
	}

	profile, err := s.repo.GetOrCreateProfile(ctx, op.ID, memberID, now)
	if err != nil {
		return 0, err
	}
	if _, err := s.repo.GetOrCreateSummary(ctx, op.ID, memberID); err != nil {
		return 0, err
	}

	coupons, err := s.repo.GetCoupons(ctx, op.ID, true, true)
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range coupons {
		count, err := packCount(ctx, op, &coupons[i])
		if err != nil {
			return total, err
		}
		if count <= 0 {
			continue
		}

		if err := s.repo.UpsertPreparedReward(ctx, op.ID, memberID, coupons[i].ID, rtype, count, now); err != nil {
			return total, err
		}
		if _, err := s.applyDelta(ctx, op.ID, memberID, &coupons[i], count); err != nil {
			return total, err
		}
		if err := s.repo.AddTotalOffered(ctx, coupons[i].ID, count); err != nil {
			return total, err
		}

		profile.CouponScore += count * coupons[i].Coefficient
		total += count
	}

	if total > 0 {
		profile.RewardScore = model.RewardScoreFor(rtype)
		profile.LastRewardDate = now
	}
	if err := s.repo.UpdateProfile(ctx, profile); err != nil {
		return total, err
	}

	return total, nil
}

// activeOperator возвращает активного оператора или nil, если профиль
// оператора отсутствует: в этом случае начисления молча пропускаются.
func (s *Service) activeOperator(ctx context.Context, operatorID int64) (*model.Operator, error) {
	op, err := s.repo.GetOperator(ctx, operatorID)
	if err != nil {
		if errors.Is(err, repository.ErrOperatorNotFound) {
			s.logger.Debug("operator inactive, reward skipped", zap.Int64("operator", operatorID))
			return nil, nil
		}
		return nil, err
	}
	return op, nil
}

// UseCoupon списывает полную кучу купонов участника в обмен на приз.
// Требует накопленного остатка не меньше порога купона; иначе операция
// отклоняется без каких-либо изменений.
func (s *Service) UseCoupon(ctx context.Context, memberID, couponID int64, objectID string) error {
	coupon, err := s.repo.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}

	cumul, err := s.repo.GetCumul(ctx, memberID, couponID)
	if err != nil {
		return err
	}
	if cumul.Count < coupon.HeapSize {
		return repository.ErrInsufficientBalance
	}

	if _, err := s.repo.UpsertCumul(ctx, memberID, couponID, -coupon.HeapSize); err != nil {
		return err
	}
	if err := s.repo.AddToSummary(ctx, coupon.OperatorID, memberID, -coupon.HeapSize); err != nil {
		return err
	}

	use := &model.CouponUse{
		MemberID: memberID,
		CouponID: couponID,
		Count:    coupon.HeapSize,
		Usage:    model.CouponUsagePayment,
		ObjectID: objectID,
	}
	if err := s.repo.CreateCouponUse(ctx, use); err != nil {
		return err
	}

	if err := s.repo.CollectWinner(ctx, memberID, couponID); err != nil {
		return err
	}

	return s.recomputeThreshold(ctx, coupon.OperatorID, memberID)
}

// DonateCoupon передаёт count купонов от донора получателю. Оба участника
// должны состоять в сообществе оператора купона; у донора должно быть
// достаточно накоплений.
func (s *Service) DonateCoupon(ctx context.Context, donorID, receiverID, couponID int64, count int, objectID string, now time.Time) error {
	if count <= 0 {
		return errors.New("donation count must be positive")
	}

	coupon, err := s.repo.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}

	related, err := s.repo.IsMemberOf(ctx, coupon.OperatorID, receiverID)
	if err != nil {
		return err
	}
	if !related {
		return repository.ErrMembersNotRelated
	}

	donorCumul, err := s.repo.GetCumul(ctx, donorID, couponID)
	if err != nil {
		return err
	}
	if donorCumul.Count < count {
		return repository.ErrInsufficientBalance
	}

	if _, err := s.repo.UpsertCumul(ctx, donorID, couponID, -count); err != nil {
		return err
	}
	if err := s.repo.AddToSummary(ctx, coupon.OperatorID, donorID, -count); err != nil {
		return err
	}

	use := &model.CouponUse{
		MemberID: donorID,
		CouponID: couponID,
		Count:    count,
		Usage:    model.CouponUsageDonation,
		ObjectID: objectID,
	}
	if err := s.repo.CreateCouponUse(ctx, use); err != nil {
		return err
	}

	if err := s.recomputeThreshold(ctx, coupon.OperatorID, donorID); err != nil {
		return err
	}

	if _, err := s.repo.GetOrCreateProfile(ctx, coupon.OperatorID, receiverID, now); err != nil {
		return err
	}
	if _, err := s.repo.GetOrCreateSummary(ctx, coupon.OperatorID, receiverID); err != nil {
		return err
	}
	if _, err := s.applyDelta(ctx, coupon.OperatorID, receiverID, coupon, count); err != nil {
		return err
	}

	return nil
}
