package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/avolkov/rewarding-system/internal/model"
)

// remainingDaysInMonth возвращает число дней от указанной даты до первого
// числа следующего месяца, но не меньше одного дня.
func remainingDaysInMonth(now time.Time) int {
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	days := int(firstOfNext.Sub(now).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}

// winnersNeededToday возвращает, сколько победителей купона нужно выбрать
// сегодня, чтобы равномерно израсходовать остаток месячной квоты.
// При исчерпанной квоте возвращает ноль.
func winnersNeededToday(coupon *model.Coupon, remainingDays int) int {
	left := coupon.MonthQuota - coupon.MonthWinners
	if left <= 0 {
		return 0
	}
	if remainingDays < 1 {
		remainingDays = 1
	}
	return left / remainingDays
}

// planWinningSlots строит для каждого купона набор позиций-победителей
// в очереди добора размера poolSize. Позиции выбираются без повторов.
// Если победителей нужно больше, чем есть кандидатов, план урезается
// до размера очереди, а недостача логируется.
func (s *Service) planWinningSlots(coupons []model.Coupon, poolSize, remainingDays int) map[int64]map[int]struct{} {
	slots := make(map[int64]map[int]struct{}, len(coupons))
	if poolSize <= 0 {
		return slots
	}

	for i := range coupons {
		coupon := &coupons[i]
		needed := winnersNeededToday(coupon, remainingDays)
		if needed == 0 {
			continue
		}
		if needed > poolSize {
			s.logger.Warn("winner slots clamped to candidate pool",
				zap.Int64("coupon", coupon.ID),
				zap.Int("needed", needed),
				zap.Int("pool", poolSize))
			needed = poolSize
		}

		set := make(map[int]struct{}, needed)
		for _, idx := range s.rng.Perm(poolSize)[:needed] {
			set[idx] = struct{}{}
		}
		slots[coupon.ID] = set
	}

	return slots
}

// winnerBonus возвращает случайный бонус победителя из ступенчатого
// диапазона BonusStep..BonusMax с шагом BonusStep.
func (s *Service) winnerBonus() int {
	step := s.cfg.BonusStep
	if step <= 0 {
		step = 3
	}
	max := s.cfg.BonusMax
	if max < step {
		max = step
	}
	return step * (1 + s.rng.Intn(max/step))
}

// freeGrantSize возвращает размер случайного бесплатного начисления для
// купона с учётом текущего остатка участника. Диапазон ограничен сверху
// свободным местом до порога за вычетом отступа, делённым на коэффициент.
// Если диапазон схлопывается, начисляется один купон.
func (s *Service) freeGrantSize(coupon *model.Coupon, balance int) int {
	left := coupon.HeapSize - balance - s.cfg.SafetyMargin
	max := s.cfg.MaxFree
	if left < max {
		max = left
	}
	coeff := coupon.Coefficient
	if coeff < 1 {
		coeff = 1
	}
	max /= coeff

	min := s.cfg.MinFree
	if max < min {
		min = max
	}
	if min > max || max < 1 {
		return 1
	}
	if min < 1 {
		min = 1
	}
	return min + s.rng.Intn(max-min+1)
}
