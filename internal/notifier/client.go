// Package notifier предоставляет клиент для внешнего шлюза уведомлений
// (почта и SMS).
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sethvargo/go-retry"

	"github.com/avolkov/rewarding-system/internal/model"
	"github.com/avolkov/rewarding-system/internal/validation"
)

// RewardItem описывает одну позицию сводки: купон и число начислений.
type RewardItem struct {
	CouponName string `json:"coupon"`
	Count      int    `json:"count"`
}

// RewardGroup объединяет вознаграждения участника у одного оператора.
type RewardGroup struct {
	OperatorName string       `json:"operator"`
	Items        []RewardItem `json:"items"`
}

// Client инкапсулирует HTTP-взаимодействие со шлюзом уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type noticeRequest struct {
	Email   string        `json:"email,omitempty"`
	Phone   string        `json:"phone,omitempty"`
	Subject string        `json:"subject"`
	Text    string        `json:"text"`
	Groups  []RewardGroup `json:"groups"`
}

// NewClient создаёт HTTP-клиент для обращения к шлюзу уведомлений
// по указанному адресу. Временные сбои сети повторяются автоматически.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 5 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// SendRewardNotice компонует одно сообщение по сгруппированным
// вознаграждениям участника и передаёт его шлюзу. SMS-канал используется,
// только если номер телефона участника корректен.
func (c *Client) SendRewardNotice(ctx context.Context, member *model.Member, groups []RewardGroup) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notifier client not configured")
	}

	req := noticeRequest{
		Email:   member.Email,
		Subject: "Free coupons are waiting for you",
		Text:    ComposeSummary(groups),
		Groups:  groups,
	}
	if validation.IsValidPhoneNumber(member.Phone) {
		req.Phone = member.Phone
	}
	if req.Email == "" && req.Phone == "" {
		return fmt.Errorf("member %d has no contact channel", member.ID)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(1*time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.post(ctx, body); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (c *Client) post(ctx context.Context, body []byte) error {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := base + "/api/notifications"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

// ComposeSummary собирает короткую текстовую сводку вознаграждений
// вида "Оператор купон: N, купон: M - Оператор ...".
func ComposeSummary(groups []RewardGroup) string {
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		items := make([]string, 0, len(g.Items))
		for _, it := range g.Items {
			items = append(items, fmt.Sprintf("%s: %d", it.CouponName, it.Count))
		}
		parts = append(parts, g.OperatorName+" "+strings.Join(items, ", "))
	}
	return strings.Join(parts, " - ")
}
