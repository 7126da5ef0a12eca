package service

import (
	"context"

	"go.uber.org/zap"
)

// DeleteCoupon помечает купон удалённым и запускает фоновую очистку
// его следов: записи никогда не удаляются жёстко, чтобы сохранить ссылки.
func (s *Service) DeleteCoupon(ctx context.Context, couponID int64) error {
	coupon, err := s.repo.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}

	if err := s.repo.MarkCouponDeleted(ctx, couponID); err != nil {
		return err
	}

	go func() {
		if err := s.PurgeDeletedCoupon(context.Background(), couponID); err != nil {
			s.logger.Error("coupon purge failed",
				zap.Int64("coupon", couponID),
				zap.Error(err))
		}
	}()

	s.logger.Info("coupon deleted",
		zap.Int64("coupon", couponID),
		zap.String("name", coupon.Name))
	return nil
}

// PurgeDeletedCoupon вычищает перекрёстные ссылки удалённого купона:
// снимает несобранные отметки победителей, порциями удаляет накопленные
// остатки, вычитая их из агрегатов участников, и заново вычисляет признак
// достижения порога по оставшимся купонам. Операция идемпотентна и
// переносит параллельные начисления: признак порога пересчитывается,
// а не предполагается.
func (s *Service) PurgeDeletedCoupon(ctx context.Context, couponID int64) error {
	coupon, err := s.repo.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteUncollectedWinners(ctx, couponID); err != nil {
		return err
	}

	purged := 0
	for {
		balances, err := s.repo.GetCouponBalances(ctx, couponID, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(balances) == 0 {
			break
		}

		for _, b := range balances {
			if err := s.repo.AddToSummary(ctx, coupon.OperatorID, b.MemberID, -b.Count); err != nil {
				return err
			}
			if err := s.repo.DeleteCumul(ctx, b.ID); err != nil {
				return err
			}
			if err := s.recomputeThreshold(ctx, coupon.OperatorID, b.MemberID); err != nil {
				return err
			}
			purged++
		}

		if len(balances) < s.cfg.BatchSize {
			break
		}
	}

	s.logger.Info("deleted coupon purged",
		zap.Int64("coupon", couponID),
		zap.Int("balances", purged))
	return nil
}
