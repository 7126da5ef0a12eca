// Package config содержит логику чтения конфигурации движка вознаграждений.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации движка вознаграждений.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	NotifierAddress string `env:"NOTIFIER_ADDRESS"`
	ServiceToken    string `env:"SERVICE_TOKEN"`

	CronInterval time.Duration `env:"CRON_INTERVAL" envDefault:"1h"`

	Rewarding Rewarding
}

// Rewarding содержит настройки алгоритма распределения бесплатных купонов.
type Rewarding struct {
	// DailyTargetDivisor — делитель размера аудитории при расчёте
	// дневной цели. Фиксированная нормализация на 30 дней.
	DailyTargetDivisor int `env:"CR_DAILY_TARGET_DIVISOR" envDefault:"30"`
	// BatchSize — размер порции участников при обходе сообщества.
	BatchSize int `env:"CR_BATCH_SIZE" envDefault:"500"`
	// DeferralDays — минимальный возраст последнего вознаграждения
	// для попадания в добор.
	DeferralDays int `env:"CR_DEFERRAL_DAYS" envDefault:"2"`
	// MinFree и MaxFree — границы случайного бесплатного начисления.
	MinFree int `env:"CR_MIN_FREE" envDefault:"4"`
	MaxFree int `env:"CR_MAX_FREE" envDefault:"42"`
	// CriticalLimit — остаток, выше которого купон не участвует
	// в случайных мелких начислениях.
	CriticalLimit int `env:"CR_CRITICAL_LIMIT" envDefault:"75"`
	// SafetyMargin — отступ от порога при расчёте свободного места.
	SafetyMargin int `env:"CR_SAFETY_MARGIN" envDefault:"5"`
	// BonusStep и BonusMax задают ступенчатый диапазон случайного
	// бонуса победителя: BonusStep, 2*BonusStep, ..., BonusMax.
	BonusStep int `env:"CR_BONUS_STEP" envDefault:"3"`
	BonusMax  int `env:"CR_BONUS_MAX" envDefault:"18"`
	// MinForSending — минимум накопленных вознаграждений для отправки письма.
	MinForSending int `env:"CR_MIN_FOR_SENDING" envDefault:"2"`
	// MaxNoRewardMailDays — число дней без письма, после которого
	// уведомление отправляется независимо от количества.
	MaxNoRewardMailDays int `env:"CR_MAX_NRM_DAYS" envDefault:"3"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifierAddress := cfg.NotifierAddress
	envServiceToken := cfg.ServiceToken

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifierAddress, "n", "", "notification gateway address")
	flag.StringVar(&cfg.ServiceToken, "t", "", "service token for cron endpoints")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifierAddress != "" {
		cfg.NotifierAddress = envNotifierAddress
	}
	if envServiceToken != "" {
		cfg.ServiceToken = envServiceToken
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.Rewarding.DailyTargetDivisor <= 0 {
		cfg.Rewarding.DailyTargetDivisor = 30
	}
	if cfg.Rewarding.BatchSize <= 0 {
		cfg.Rewarding.BatchSize = 500
	}

	return cfg, nil
}
