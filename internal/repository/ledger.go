package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avolkov/rewarding-system/internal/model"
)

// GetOrCreateProfile возвращает приоритетный профиль участника,
// создавая его при первом обращении.
func (r *PostgresRepository) GetOrCreateProfile(ctx context.Context, operatorID, memberID int64, now time.Time) (*model.CRProfile, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO cr_profiles (operator_id, member_id, reward_score, coupon_score, last_reward_date)
		 VALUES ($1, $2, $3, 0, $4)
		 ON CONFLICT (operator_id, member_id)
		 DO UPDATE SET operator_id = cr_profiles.operator_id
		 RETURNING id, operator_id, member_id, reward_score, coupon_score, last_reward_date`,
		operatorID, memberID, model.RewardScoreJoin, now,
	)

	var p model.CRProfile
	err := row.Scan(&p.ID, &p.OperatorID, &p.MemberID, &p.RewardScore, &p.CouponScore, &p.LastRewardDate)
	if err != nil {
		return nil, fmt.Errorf("get or create profile: %w", err)
	}

	return &p, nil
}

// UpdateProfile сохраняет приоритетный профиль участника.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, p *model.CRProfile) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE cr_profiles
		 SET reward_score = $2, coupon_score = $3, last_reward_date = $4
		 WHERE id = $1`,
		p.ID, p.RewardScore, p.CouponScore, p.LastRewardDate,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// SelectBackfillProfiles возвращает до limit профилей, не получавших
// вознаграждений с момента before, в порядке приоритета добора:
// ранг категории, затем сумма баллов, затем давность вознаграждения.
func (r *PostgresRepository) SelectBackfillProfiles(ctx context.Context, operatorID int64, before time.Time, limit int) ([]model.CRProfile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, operator_id, member_id, reward_score, coupon_score, last_reward_date
		 FROM cr_profiles
		 WHERE operator_id = $1 AND last_reward_date <= $2
		 ORDER BY reward_score, coupon_score, last_reward_date
		 LIMIT $3`,
		operatorID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select backfill profiles: %w", err)
	}
	defer rows.Close()

	var res []model.CRProfile
	for rows.Next() {
		var p model.CRProfile
		if err := rows.Scan(&p.ID, &p.OperatorID, &p.MemberID, &p.RewardScore, &p.CouponScore, &p.LastRewardDate); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetLastReward возвращает последнее вознаграждение участника у оператора
// или nil, если вознаграждений ещё не было.
func (r *PostgresRepository) GetLastReward(ctx context.Context, operatorID, memberID int64) (*model.Reward, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, operator_id, member_id, coupon_id, count, type, status, amount, object_id, created_at
		 FROM rewards
		 WHERE operator_id = $1 AND member_id = $2
		 ORDER BY id DESC
		 LIMIT 1`,
		operatorID, memberID,
	)

	var rw model.Reward
	err := row.Scan(&rw.ID, &rw.OperatorID, &rw.MemberID, &rw.CouponID, &rw.Count,
		&rw.Type, &rw.Status, &rw.Amount, &rw.ObjectID, &rw.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last reward: %w", err)
	}

	return &rw, nil
}

// CreateReward создаёт запись о вознаграждении.
func (r *PostgresRepository) CreateReward(ctx context.Context, rw *model.Reward) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO rewards (operator_id, member_id, coupon_id, count, type, status, amount, object_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		rw.OperatorID, rw.MemberID, rw.CouponID, rw.Count, string(rw.Type), string(rw.Status),
		rw.Amount, rw.ObjectID, rw.CreatedAt,
	).Scan(&rw.ID)
	if err != nil {
		return fmt.Errorf("create reward: %w", err)
	}
	return nil
}

// UpsertPreparedReward добавляет count к накопленному вознаграждению
// участника по купону данного типа. Пока вознаграждение не отправлено,
// повторные начисления складываются в одну запись.
func (r *PostgresRepository) UpsertPreparedReward(ctx context.Context, operatorID, memberID, couponID int64, rtype model.RewardType, count int, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rewards (operator_id, member_id, coupon_id, count, type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, 'Prepared', $6)
		 ON CONFLICT (member_id, coupon_id, type) WHERE status = 'Prepared' AND type <> 'Payment'
		 DO UPDATE SET count = rewards.count + EXCLUDED.count, created_at = EXCLUDED.created_at`,
		operatorID, memberID, couponID, count, string(rtype), now,
	)
	if err != nil {
		return fmt.Errorf("upsert prepared reward: %w", err)
	}
	return nil
}

// GetPreparedMemberIDs возвращает идентификаторы участников,
// у которых есть неотправленные вознаграждения.
func (r *PostgresRepository) GetPreparedMemberIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT member_id FROM rewards WHERE status = 'Prepared' ORDER BY member_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select prepared members: %w", err)
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPreparedRewards возвращает неотправленные вознаграждения участника.
func (r *PostgresRepository) GetPreparedRewards(ctx context.Context, memberID int64) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, operator_id, member_id, coupon_id, count, type, status, amount, object_id, created_at
		 FROM rewards
		 WHERE member_id = $1 AND status = 'Prepared'
		 ORDER BY id`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select prepared rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		var rw model.Reward
		if err := rows.Scan(&rw.ID, &rw.OperatorID, &rw.MemberID, &rw.CouponID, &rw.Count,
			&rw.Type, &rw.Status, &rw.Amount, &rw.ObjectID, &rw.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		res = append(res, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkRewardsSent переводит все неотправленные вознаграждения участника
// в статус Sent одним пакетом.
func (r *PostgresRepository) MarkRewardsSent(ctx context.Context, memberID int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE rewards SET status = 'Sent' WHERE member_id = $1 AND status = 'Prepared'`,
			memberID,
		)
		if err != nil {
			return fmt.Errorf("mark rewards sent: %w", err)
		}
		return nil
	})
}

// UpsertCumul прибавляет delta к накопленному остатку участника по купону
// и возвращает новое значение. Отрицательный итог отклоняется ограничением схемы.
func (r *PostgresRepository) UpsertCumul(ctx context.Context, memberID, couponID int64, delta int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO cumulated_coupons (member_id, coupon_id, count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (member_id, coupon_id)
		 DO UPDATE SET count = cumulated_coupons.count + EXCLUDED.count
		 RETURNING count`,
		memberID, couponID, delta,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("upsert cumulated coupon: %w", err)
	}
	return count, nil
}

// GetCumul возвращает накопленный остаток участника по купону.
func (r *PostgresRepository) GetCumul(ctx context.Context, memberID, couponID int64) (*model.CumulatedCoupon, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, member_id, coupon_id, count
		 FROM cumulated_coupons
		 WHERE member_id = $1 AND coupon_id = $2`,
		memberID, couponID,
	)

	var c model.CumulatedCoupon
	err := row.Scan(&c.ID, &c.MemberID, &c.CouponID, &c.Count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("get cumulated coupon: %w", err)
	}

	return &c, nil
}

// MemberBalance описывает остаток участника по купону вместе с порогом купона.
type MemberBalance struct {
	CouponID int64
	Count    int
	HeapSize int
}

// GetMemberBalances возвращает все остатки участника вместе с порогами купонов.
func (r *PostgresRepository) GetMemberBalances(ctx context.Context, memberID int64) ([]MemberBalance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT cc.coupon_id, cc.count, c.heap_size
		 FROM cumulated_coupons cc
		 JOIN coupons c ON c.id = cc.coupon_id
		 WHERE cc.member_id = $1 AND NOT c.deleted`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select member balances: %w", err)
	}
	defer rows.Close()

	var res []MemberBalance
	for rows.Next() {
		var b MemberBalance
		if err := rows.Scan(&b.CouponID, &b.Count, &b.HeapSize); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		res = append(res, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetCouponBalances возвращает порцию остатков по купону для фоновой очистки.
func (r *PostgresRepository) GetCouponBalances(ctx context.Context, couponID int64, limit int) ([]model.CumulatedCoupon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, member_id, coupon_id, count
		 FROM cumulated_coupons
		 WHERE coupon_id = $1
		 ORDER BY id
		 LIMIT $2`,
		couponID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select coupon balances: %w", err)
	}
	defer rows.Close()

	var res []model.CumulatedCoupon
	for rows.Next() {
		var c model.CumulatedCoupon
		if err := rows.Scan(&c.ID, &c.MemberID, &c.CouponID, &c.Count); err != nil {
			return nil, fmt.Errorf("scan cumulated coupon: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DeleteCumul удаляет запись о накопленном остатке.
func (r *PostgresRepository) DeleteCumul(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cumulated_coupons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cumulated coupon: %w", err)
	}
	return nil
}

// GetOrCreateSummary возвращает агрегат купонов участника у оператора,
// создавая его при первом обращении.
func (r *PostgresRepository) GetOrCreateSummary(ctx context.Context, operatorID, memberID int64) (*model.CouponSummary, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO coupon_summaries (operator_id, member_id, count, threshold_reached)
		 VALUES ($1, $2, 0, FALSE)
		 ON CONFLICT (operator_id, member_id)
		 DO UPDATE SET operator_id = coupon_summaries.operator_id
		 RETURNING id, operator_id, member_id, count, threshold_reached`,
		operatorID, memberID,
	)

	var s model.CouponSummary
	err := row.Scan(&s.ID, &s.OperatorID, &s.MemberID, &s.Count, &s.ThresholdReached)
	if err != nil {
		return nil, fmt.Errorf("get or create summary: %w", err)
	}

	return &s, nil
}

// AddToSummary прибавляет delta к агрегату купонов участника у оператора.
func (r *PostgresRepository) AddToSummary(ctx context.Context, operatorID, memberID int64, delta int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO coupon_summaries (operator_id, member_id, count, threshold_reached)
		 VALUES ($1, $2, $3, FALSE)
		 ON CONFLICT (operator_id, member_id)
		 DO UPDATE SET count = coupon_summaries.count + EXCLUDED.count`,
		operatorID, memberID, delta,
	)
	if err != nil {
		return fmt.Errorf("add to summary: %w", err)
	}
	return nil
}

// SetSummaryThreshold выставляет признак достижения порога у агрегата участника.
func (r *PostgresRepository) SetSummaryThreshold(ctx context.Context, operatorID, memberID int64, reached bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE coupon_summaries SET threshold_reached = $3
		 WHERE operator_id = $1 AND member_id = $2`,
		operatorID, memberID, reached,
	)
	if err != nil {
		return fmt.Errorf("set summary threshold: %w", err)
	}
	return nil
}

// GetSummaries возвращает агрегаты купонов участника по всем операторам.
func (r *PostgresRepository) GetSummaries(ctx context.Context, memberID int64) ([]model.CouponSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, operator_id, member_id, count, threshold_reached
		 FROM coupon_summaries
		 WHERE member_id = $1
		 ORDER BY operator_id`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select summaries: %w", err)
	}
	defer rows.Close()

	var res []model.CouponSummary
	for rows.Next() {
		var s model.CouponSummary
		if err := rows.Scan(&s.ID, &s.OperatorID, &s.MemberID, &s.Count, &s.ThresholdReached); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// EnsureWinner создаёт отметку победителя для пары (участник, купон),
// если несобранной отметки ещё нет.
func (r *PostgresRepository) EnsureWinner(ctx context.Context, memberID, couponID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO coupon_winners (member_id, coupon_id, collected)
		 SELECT $1, $2, FALSE
		 WHERE NOT EXISTS (
		     SELECT 1 FROM coupon_winners
		     WHERE member_id = $1 AND coupon_id = $2 AND NOT collected
		 )`,
		memberID, couponID,
	)
	if err != nil {
		return fmt.Errorf("ensure winner: %w", err)
	}
	return nil
}

// CollectWinner помечает самую старую несобранную отметку победителя собранной.
func (r *PostgresRepository) CollectWinner(ctx context.Context, memberID, couponID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE coupon_winners SET collected = TRUE
		 WHERE id = (
		     SELECT id FROM coupon_winners
		     WHERE member_id = $1 AND coupon_id = $2 AND NOT collected
		     ORDER BY id
		     LIMIT 1
		 )`,
		memberID, couponID,
	)
	if err != nil {
		return fmt.Errorf("collect winner: %w", err)
	}
	return nil
}

// DeleteUncollectedWinners удаляет несобранные отметки победителей купона.
func (r *PostgresRepository) DeleteUncollectedWinners(ctx context.Context, couponID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM coupon_winners WHERE coupon_id = $1 AND NOT collected`,
		couponID,
	)
	if err != nil {
		return fmt.Errorf("delete uncollected winners: %w", err)
	}
	return nil
}

// GetPendingWinners возвращает несобранные отметки победителей по купонам оператора.
func (r *PostgresRepository) GetPendingWinners(ctx context.Context, operatorID int64) ([]model.CouponWinner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT w.id, w.member_id, w.coupon_id, w.collected
		 FROM coupon_winners w
		 JOIN coupons c ON c.id = w.coupon_id
		 WHERE c.operator_id = $1 AND NOT w.collected
		 ORDER BY w.id`,
		operatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending winners: %w", err)
	}
	defer rows.Close()

	var res []model.CouponWinner
	for rows.Next() {
		var w model.CouponWinner
		if err := rows.Scan(&w.ID, &w.MemberID, &w.CouponID, &w.Collected); err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateCouponUse создаёт запись о списании купонов.
func (r *PostgresRepository) CreateCouponUse(ctx context.Context, u *model.CouponUse) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO coupon_uses (member_id, coupon_id, count, usage, object_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		u.MemberID, u.CouponID, u.Count, string(u.Usage), u.ObjectID,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("create coupon use: %w", err)
	}
	return nil
}
