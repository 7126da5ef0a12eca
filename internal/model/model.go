// Package model содержит доменные сущности движка вознаграждений.
package model

import "time"

// CouponType описывает тип купона, от которого зависит его коэффициент.
type CouponType string

const (
	CouponTypeDiscount      CouponType = "Discount"
	CouponTypePurchaseOrder CouponType = "PurchaseOrder"
	CouponTypeGift          CouponType = "Gift"
)

// Coefficient возвращает весовой коэффициент купона, однозначно
// определяемый его типом.
func (t CouponType) Coefficient() int {
	switch t {
	case CouponTypeGift:
		return 2
	case CouponTypePurchaseOrder:
		return 3
	default:
		return 1
	}
}

// CouponStatus описывает статус модерации купона.
type CouponStatus string

const (
	CouponStatusPending  CouponStatus = "PendingForApproval"
	CouponStatusApproved CouponStatus = "Approved"
	CouponStatusRejected CouponStatus = "Rejected"
)

// Coupon представляет купон, который участник накапливает,
// чтобы по достижении порога HeapSize получить приз.
type Coupon struct {
	ID           int64
	OperatorID   int64
	Name         string
	Slug         string
	Description  string
	Type         CouponType
	Status       CouponStatus
	Coefficient  int
	HeapSize     int
	MonthQuota   int
	MonthWinners int
	TotalOffered int
	IsActive     bool
	Deleted      bool
}

// RewardStatus описывает статус жизненного цикла вознаграждения.
type RewardStatus string

const (
	RewardStatusPrepared RewardStatus = "Prepared"
	RewardStatusSent     RewardStatus = "Sent"
)

// RewardType описывает источник вознаграждения.
type RewardType string

const (
	RewardTypeJoin     RewardType = "Join"
	RewardTypeFree     RewardType = "Free"
	RewardTypePayment  RewardType = "Payment"
	RewardTypeManual   RewardType = "Manual"
	RewardTypeReferral RewardType = "Referral"
)

// Reward представляет начисленное участнику вознаграждение купонами.
// Накопленные вознаграждения хранятся в статусе Prepared и переводятся
// в Sent одним пакетом при отправке уведомления.
type Reward struct {
	ID         int64
	OperatorID int64
	MemberID   int64
	CouponID   int64
	Count      int
	Type       RewardType
	Status     RewardStatus
	Amount     *float64
	ObjectID   string
	CreatedAt  time.Time
}

// CumulatedCoupon хранит накопленный остаток купона у участника.
// Уникален по паре (участник, купон), значение не бывает отрицательным.
type CumulatedCoupon struct {
	ID       int64
	MemberID int64
	CouponID int64
	Count    int
}

// CouponSummary агрегирует купоны участника у одного оператора
// независимо от конкретного купона.
type CouponSummary struct {
	ID               int64
	OperatorID       int64
	MemberID         int64
	Count            int
	ThresholdReached bool
}

// CouponWinner фиксирует достижение участником порога купона.
// Запись не удаляется: при получении приза выставляется флаг Collected.
type CouponWinner struct {
	ID        int64
	MemberID  int64
	CouponID  int64
	Collected bool
}

// CouponUsage описывает способ списания накопленных купонов.
type CouponUsage string

const (
	CouponUsagePayment  CouponUsage = "Payment"
	CouponUsageDonation CouponUsage = "Donation"
)

// CouponUse фиксирует факт списания купонов участника.
type CouponUse struct {
	ID       int64
	MemberID int64
	CouponID int64
	Count    int
	Usage    CouponUsage
	ObjectID string
}

// Ранги категорий вознаграждений. Используются как ключ сортировки
// при отборе кандидатов, а не как величина.
const (
	RewardScoreJoin    = 1
	RewardScorePayment = 2
	RewardScoreManual  = 3
	RewardScoreFree    = 4
)

// RewardScoreFor возвращает ранг категории для типа вознаграждения.
func RewardScoreFor(t RewardType) int {
	switch t {
	case RewardTypePayment:
		return RewardScorePayment
	case RewardTypeManual:
		return RewardScoreManual
	case RewardTypeJoin:
		return RewardScoreJoin
	default:
		return RewardScoreFree
	}
}

// CRProfile содержит приоритетный профиль участника в сообществе оператора:
// ранг последнего вознаграждения, кэшированную сумму баллов по купонам
// и время последнего вознаграждения.
type CRProfile struct {
	ID             int64
	OperatorID     int64
	MemberID       int64
	RewardScore    int
	CouponScore    int
	LastRewardDate time.Time
}

// Member представляет участника программы лояльности.
type Member struct {
	ID    int64
	Email string
	Phone string
	Name  string
}

// BillingPlan описывает тарифный план оператора, задающий размер аудитории.
type BillingPlan struct {
	ID           int64
	Name         string
	Slug         string
	AudienceSize int
	IsActive     bool
}

// Operator представляет оператора программы постоянных вознаграждений.
// Движок обрабатывает только активных операторов с неистёкшей подпиской.
type Operator struct {
	ID           int64
	Name         string
	PlanID       int64
	AudienceSize int
	IsActive     bool
	Expiry       time.Time
}

// JoinRewardPack задаёт количество купонов, начисляемых
// новому участнику сообщества.
type JoinRewardPack struct {
	ID         int64
	OperatorID int64
	CouponID   int64
	Count      int
}

// ReferralRewardPack задаёт количество купонов за приглашение участника.
type ReferralRewardPack struct {
	ID         int64
	OperatorID int64
	CouponID   int64
	Count      int
}

// PaymentRewardPack задаёт количество купонов за онлайн-платёж
// на сумму в интервале (Floor, Ceiling].
type PaymentRewardPack struct {
	ID         int64
	OperatorID int64
	CouponID   int64
	Floor      float64
	Ceiling    float64
	Count      int
}
