package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avolkov/rewarding-system/internal/model"
)

// GetActiveOperators возвращает активных операторов с неистёкшей подпиской
// вместе с размером аудитории их тарифного плана.
func (r *PostgresRepository) GetActiveOperators(ctx context.Context, now time.Time) ([]model.Operator, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.name, o.plan_id, p.audience_size, o.is_active, o.expiry
		 FROM operators o
		 JOIN billing_plans p ON p.id = o.plan_id
		 WHERE o.is_active AND o.expiry > $1
		 ORDER BY o.id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select operators: %w", err)
	}
	defer rows.Close()

	var res []model.Operator
	for rows.Next() {
		var op model.Operator
		if err := rows.Scan(&op.ID, &op.Name, &op.PlanID, &op.AudienceSize, &op.IsActive, &op.Expiry); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		res = append(res, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetOperator возвращает активного оператора по идентификатору.
func (r *PostgresRepository) GetOperator(ctx context.Context, id int64) (*model.Operator, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT o.id, o.name, o.plan_id, p.audience_size, o.is_active, o.expiry
		 FROM operators o
		 JOIN billing_plans p ON p.id = o.plan_id
		 WHERE o.id = $1 AND o.is_active`,
		id,
	)

	var op model.Operator
	err := row.Scan(&op.ID, &op.Name, &op.PlanID, &op.AudienceSize, &op.IsActive, &op.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}

	return &op, nil
}

// GetMembers возвращает порцию участников сообщества оператора.
func (r *PostgresRepository) GetMembers(ctx context.Context, operatorID int64, offset, limit int) ([]model.Member, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.email, m.phone, m.name
		 FROM members m
		 JOIN operator_members om ON om.member_id = m.id
		 WHERE om.operator_id = $1
		 ORDER BY m.id
		 OFFSET $2 LIMIT $3`,
		operatorID, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	var res []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.ID, &m.Email, &m.Phone, &m.Name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetMember возвращает участника по идентификатору.
func (r *PostgresRepository) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, phone, name FROM members WHERE id = $1`,
		id,
	)

	var m model.Member
	if err := row.Scan(&m.ID, &m.Email, &m.Phone, &m.Name); err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}

	return &m, nil
}

// IsMemberOf сообщает, состоит ли участник в сообществе оператора.
func (r *PostgresRepository) IsMemberOf(ctx context.Context, operatorID, memberID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM operator_members WHERE operator_id = $1 AND member_id = $2)`,
		operatorID, memberID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// GetCoupons возвращает купоны оператора, кроме удалённых.
// Флаги позволяют ограничить выборку одобренными и активными купонами.
func (r *PostgresRepository) GetCoupons(ctx context.Context, operatorID int64, approvedOnly, activeOnly bool) ([]model.Coupon, error) {
	query := `SELECT id, operator_id, name, slug, description, type, status, coefficient,
	                 heap_size, month_quota, month_winners, total_offered, is_active, deleted
	          FROM coupons
	          WHERE operator_id = $1 AND NOT deleted`
	if approvedOnly {
		query += ` AND status = 'Approved'`
	}
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, operatorID)
	if err != nil {
		return nil, fmt.Errorf("select coupons: %w", err)
	}
	defer rows.Close()

	var res []model.Coupon
	for rows.Next() {
		var c model.Coupon
		if err := rows.Scan(&c.ID, &c.OperatorID, &c.Name, &c.Slug, &c.Description, &c.Type, &c.Status,
			&c.Coefficient, &c.HeapSize, &c.MonthQuota, &c.MonthWinners, &c.TotalOffered, &c.IsActive, &c.Deleted); err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetCoupon возвращает купон по идентификатору.
func (r *PostgresRepository) GetCoupon(ctx context.Context, id int64) (*model.Coupon, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, operator_id, name, slug, description, type, status, coefficient,
		        heap_size, month_quota, month_winners, total_offered, is_active, deleted
		 FROM coupons WHERE id = $1`,
		id,
	)

	var c model.Coupon
	err := row.Scan(&c.ID, &c.OperatorID, &c.Name, &c.Slug, &c.Description, &c.Type, &c.Status,
		&c.Coefficient, &c.HeapSize, &c.MonthQuota, &c.MonthWinners, &c.TotalOffered, &c.IsActive, &c.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return &c, nil
}

// SaveCoupon создаёт или обновляет купон. Коэффициент всегда
// перевычисляется из типа купона, переданное значение игнорируется.
func (r *PostgresRepository) SaveCoupon(ctx context.Context, c *model.Coupon) error {
	c.Coefficient = c.Type.Coefficient()

	if c.ID == 0 {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO coupons (operator_id, name, slug, description, type, status, coefficient,
			                      heap_size, month_quota, month_winners, total_offered, is_active, deleted)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 RETURNING id`,
			c.OperatorID, c.Name, c.Slug, c.Description, string(c.Type), string(c.Status), c.Coefficient,
			c.HeapSize, c.MonthQuota, c.MonthWinners, c.TotalOffered, c.IsActive, c.Deleted,
		).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("insert coupon: %w", err)
		}
		return nil
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE coupons
		 SET name = $2, slug = $3, description = $4, type = $5, status = $6, coefficient = $7,
		     heap_size = $8, month_quota = $9, month_winners = $10, total_offered = $11,
		     is_active = $12, deleted = $13
		 WHERE id = $1`,
		c.ID, c.Name, c.Slug, c.Description, string(c.Type), string(c.Status), c.Coefficient,
		c.HeapSize, c.MonthQuota, c.MonthWinners, c.TotalOffered, c.IsActive, c.Deleted,
	)
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}

	return nil
}

// IncrementMonthWinners увеличивает счётчик победителей купона в текущем месяце.
func (r *PostgresRepository) IncrementMonthWinners(ctx context.Context, couponID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE coupons SET month_winners = month_winners + 1 WHERE id = $1`,
		couponID,
	)
	if err != nil {
		return fmt.Errorf("increment month winners: %w", err)
	}
	return nil
}

// AddTotalOffered увеличивает накопительный счётчик выданных купонов.
func (r *PostgresRepository) AddTotalOffered(ctx context.Context, couponID int64, count int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE coupons SET total_offered = total_offered + $2 WHERE id = $1`,
		couponID, count,
	)
	if err != nil {
		return fmt.Errorf("add total offered: %w", err)
	}
	return nil
}

// ResetMonthlyWinners обнуляет месячные счётчики победителей всех купонов.
func (r *PostgresRepository) ResetMonthlyWinners(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `UPDATE coupons SET month_winners = 0`)
	if err != nil {
		return fmt.Errorf("reset monthly winners: %w", err)
	}
	return nil
}

// MarkCouponDeleted помечает купон удалённым, не удаляя запись.
func (r *PostgresRepository) MarkCouponDeleted(ctx context.Context, couponID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET deleted = TRUE, is_active = FALSE WHERE id = $1`,
		couponID,
	)
	if err != nil {
		return fmt.Errorf("mark coupon deleted: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCouponNotFound
	}
	return nil
}

// FindJoinRewardPack возвращает стартовый набор купона или nil, если он не настроен.
func (r *PostgresRepository) FindJoinRewardPack(ctx context.Context, operatorID, couponID int64) (*model.JoinRewardPack, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, operator_id, coupon_id, count
		 FROM join_reward_packs
		 WHERE operator_id = $1 AND coupon_id = $2`,
		operatorID, couponID,
	)

	var p model.JoinRewardPack
	err := row.Scan(&p.ID, &p.OperatorID, &p.CouponID, &p.Count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find join reward pack: %w", err)
	}

	return &p, nil
}

// FindReferralRewardPack возвращает реферальный набор купона или nil, если он не настроен.
func (r *PostgresRepository) FindReferralRewardPack(ctx context.Context, operatorID, couponID int64) (*model.ReferralRewardPack, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, operator_id, coupon_id, count
		 FROM referral_reward_packs
		 WHERE operator_id = $1 AND coupon_id = $2`,
		operatorID, couponID,
	)

	var p model.ReferralRewardPack
	err := row.Scan(&p.ID, &p.OperatorID, &p.CouponID, &p.Count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find referral reward pack: %w", err)
	}

	return &p, nil
}

// FindPaymentRewardPack возвращает платёжный набор купона, в интервал которого
// попадает сумма платежа, или nil, если такого набора нет.
func (r *PostgresRepository) FindPaymentRewardPack(ctx context.Context, operatorID, couponID int64, amount float64) (*model.PaymentRewardPack, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, operator_id, coupon_id, floor, ceiling, count
		 FROM payment_reward_packs
		 WHERE operator_id = $1 AND coupon_id = $2 AND floor < $3 AND ceiling >= $3`,
		operatorID, couponID, amount,
	)

	var p model.PaymentRewardPack
	err := row.Scan(&p.ID, &p.OperatorID, &p.CouponID, &p.Floor, &p.Ceiling, &p.Count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find payment reward pack: %w", err)
	}

	return &p, nil
}
