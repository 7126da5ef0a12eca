package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/avolkov/rewarding-system/internal/model"
)

// PrepareFreeRewards раз в день распределяет бесплатные купоны между
// участниками сообществ всех активных операторов. Ошибка одного оператора
// не прерывает обработку остальных.
func (s *Service) PrepareFreeRewards(ctx context.Context, now time.Time) error {
	operators, err := s.repo.GetActiveOperators(ctx, now)
	if err != nil {
		return err
	}

	for _, op := range operators {
		if err := s.prepareOperator(ctx, op, now); err != nil {
			s.logger.Error("prepare free rewards failed",
				zap.Int64("operator", op.ID),
				zap.String("name", op.Name),
				zap.Error(err))
			continue
		}
	}

	return nil
}

// prepareOperator обрабатывает одного оператора: сперва ярус ни разу
// не вознаграждённых участников, затем добор до дневной цели.
func (s *Service) prepareOperator(ctx context.Context, op model.Operator, now time.Time) error {
	target := op.AudienceSize / s.cfg.DailyTargetDivisor

	neverRewarded, err := s.rewardNewcomers(ctx, op, target, now)
	if err != nil {
		return err
	}

	if err := s.backfill(ctx, op, target-neverRewarded, now); err != nil {
		return err
	}

	s.logger.Info("free rewards prepared",
		zap.Int64("operator", op.ID),
		zap.Int("daily_target", target),
		zap.Int("never_rewarded", neverRewarded))
	return nil
}

// rewardNewcomers обходит сообщество оператора порциями и выдаёт стартовые
// наборы купонов участникам без истории вознаграждений, пока их число
// не достигнет дневной цели. Возвращает число обработанных новичков.
// Каждый пройденный участник получает ранг категории Free: сегодня он
// уже рассмотрен, и в доборе ему делать нечего.
func (s *Service) rewardNewcomers(ctx context.Context, op model.Operator, target int, now time.Time) (int, error) {
	coupons, err := s.repo.GetCoupons(ctx, op.ID, true, true)
	if err != nil {
		return 0, err
	}

	neverRewarded := 0
	offset := 0
	for {
		members, err := s.repo.GetMembers(ctx, op.ID, offset, s.cfg.BatchSize)
		if err != nil {
			return neverRewarded, err
		}
		if len(members) == 0 {
			break
		}

		for _, m := range members {
			profile, err := s.repo.GetOrCreateProfile(ctx, op.ID, m.ID, now)
			if err != nil {
				return neverRewarded, err
			}

			last, err := s.repo.GetLastReward(ctx, op.ID, m.ID)
			if err != nil {
				return neverRewarded, err
			}

			if last == nil && neverRewarded < target {
				neverRewarded++
				for i := range coupons {
					pack, err := s.repo.FindJoinRewardPack(ctx, op.ID, coupons[i].ID)
					if err != nil {
						return neverRewarded, err
					}
					if pack == nil || pack.Count <= 0 {
						continue
					}
					if err := s.grantFree(ctx, op, profile, &coupons[i], model.RewardTypeJoin, pack.Count, now); err != nil {
						return neverRewarded, err
					}
				}
			}

			profile.RewardScore = model.RewardScoreFree
			if err := s.repo.UpdateProfile(ctx, profile); err != nil {
				return neverRewarded, err
			}
		}

		offset += len(members)
		if len(members) < s.cfg.BatchSize {
			break
		}
	}

	return neverRewarded, nil
}

// backfill добирает до n участников, дольше всех сидевших без значимого
// вознаграждения, и раздаёт им купоны: победителям квоты — добивку до
// порога с бонусом, остальным — случайное небольшое начисление.
func (s *Service) backfill(ctx context.Context, op model.Operator, n int, now time.Time) error {
	if n <= 0 {
		return nil
	}

	coupons, err := s.repo.GetCoupons(ctx, op.ID, true, true)
	if err != nil {
		return err
	}
	if len(coupons) == 0 {
		return nil
	}

	remainingDays := remainingDaysInMonth(now)
	slots := s.planWinningSlots(coupons, n, remainingDays)

	cutoff := now.AddDate(0, 0, -s.cfg.DeferralDays)
	profiles, err := s.repo.SelectBackfillProfiles(ctx, op.ID, cutoff, n)
	if err != nil {
		return err
	}

	for i := range profiles {
		profile := &profiles[i]

		won := false
		for j := range coupons {
			if _, ok := slots[coupons[j].ID][i]; !ok {
				continue
			}
			if err := s.grantWinner(ctx, op, profile, &coupons[j], now); err != nil {
				return err
			}
			won = true
			break
		}

		if !won {
			if err := s.grantConsolation(ctx, op, profile, coupons, now); err != nil {
				return err
			}
		}

		profile.RewardScore = model.RewardScoreFree
		if err := s.repo.UpdateProfile(ctx, profile); err != nil {
			return err
		}
	}

	return nil
}

// grantWinner добивает остаток участника до порога купона и добавляет
// случайный бонус, делая его победителем месяца по этому купону.
func (s *Service) grantWinner(ctx context.Context, op model.Operator, profile *model.CRProfile, coupon *model.Coupon, now time.Time) error {
	cumul, err := s.repo.UpsertCumul(ctx, profile.MemberID, coupon.ID, 0)
	if err != nil {
		return err
	}

	remaining := coupon.HeapSize - cumul
	if remaining < 0 {
		remaining = 0
	}
	count := remaining + s.winnerBonus()

	if err := s.grantFree(ctx, op, profile, coupon, model.RewardTypeFree, count, now); err != nil {
		return err
	}

	if err := s.repo.IncrementMonthWinners(ctx, coupon.ID); err != nil {
		return err
	}
	coupon.MonthWinners++

	s.logger.Debug("quota winner granted",
		zap.Int64("operator", op.ID),
		zap.Int64("member", profile.MemberID),
		zap.Int64("coupon", coupon.ID),
		zap.Int("count", count))
	return nil
}

// grantConsolation выдаёт участнику небольшое случайное начисление на первый
// купон с остатком ниже критического предела. Если все купоны участника
// уже у предела, начисление всё равно делается на случайный купон:
// участник дня без купонов не остаётся.
func (s *Service) grantConsolation(ctx context.Context, op model.Operator, profile *model.CRProfile, coupons []model.Coupon, now time.Time) error {
	shuffled := make([]model.Coupon, len(coupons))
	copy(shuffled, coupons)
	s.rng.Shuffle(len(shuffled), func(a, b int) {
		shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
	})

	for i := range shuffled {
		cumul, err := s.repo.UpsertCumul(ctx, profile.MemberID, shuffled[i].ID, 0)
		if err != nil {
			return err
		}
		if cumul >= s.cfg.CriticalLimit {
			continue
		}
		count := s.freeGrantSize(&shuffled[i], cumul)
		return s.grantFree(ctx, op, profile, &shuffled[i], model.RewardTypeFree, count, now)
	}

	coupon := coupons[s.rng.Intn(len(coupons))]
	cumul, err := s.repo.UpsertCumul(ctx, profile.MemberID, coupon.ID, 0)
	if err != nil {
		return err
	}
	count := s.freeGrantSize(&coupon, cumul)
	return s.grantFree(ctx, op, profile, &coupon, model.RewardTypeFree, count, now)
}

// grantFree начисляет участнику count купонов: накапливает неотправленное
// вознаграждение, двигает остаток и агрегат, обновляет профиль и
// накопительный счётчик купона.
func (s *Service) grantFree(ctx context.Context, op model.Operator, profile *model.CRProfile, coupon *model.Coupon, rtype model.RewardType, count int, now time.Time) error {
	if count <= 0 {
		return nil
	}

	if err := s.repo.UpsertPreparedReward(ctx, op.ID, profile.MemberID, coupon.ID, rtype, count, now); err != nil {
		return err
	}

	if _, err := s.applyDelta(ctx, op.ID, profile.MemberID, coupon, count); err != nil {
		return err
	}

	if err := s.repo.AddTotalOffered(ctx, coupon.ID, count); err != nil {
		return err
	}

	profile.CouponScore += count * coupon.Coefficient
	profile.LastRewardDate = now
	return nil
}
