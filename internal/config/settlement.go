package config

import (
	"os"
	"strconv"
	"time"
)

// Fare strategy selectors.
const (
	FareStrategyFixed    = "fixed"
	FareStrategyDistance = "distance"
)

type SettlementConfig struct {
	CommissionPercent int64
	FareStrategy      string
	FixedFareAmount   int64 // minor units
	BaseFareAmount    int64 // minor units, distance strategy flag-fall
	FarePerKilometer  int64 // minor units
	MaxRetryAttempts  int
	RetryBackoffBase  time.Duration
	PlatformAccountID string
	VoucherTimeout    time.Duration
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		CommissionPercent: getEnvAsInt64("PLATFORM_COMMISSION_PERCENT", 10),
		FareStrategy:      getEnv("FARE_STRATEGY", FareStrategyFixed),
		FixedFareAmount:   getEnvAsInt64("FIXED_FARE_AMOUNT", 1500),
		BaseFareAmount:    getEnvAsInt64("BASE_FARE_AMOUNT", 1200),
		FarePerKilometer:  getEnvAsInt64("FARE_PER_KM", 180),
		MaxRetryAttempts:  getEnvAsInt("MAX_RETRY_ATTEMPTS", 5),
		RetryBackoffBase:  getEnvAsDuration("RETRY_BACKOFF_BASE", 25*time.Millisecond),
		PlatformAccountID: getEnv("PLATFORM_ACCOUNT_ID", "ACCT-PLATFORM"),
		VoucherTimeout:    getEnvAsDuration("TOPUP_VOUCHER_TIMEOUT", 15*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
