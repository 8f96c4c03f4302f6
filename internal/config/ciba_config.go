package config

import (
	"strconv"
	"time"
)

type CIBAConfig interface {
	GetBackchannelRequestExpiry() time.Duration
	GetPollInterval() time.Duration
	GetNotifyTimeout() time.Duration
	GetMaxPushAttempts() uint
}

type CIBA struct{}

var _ CIBAConfig = CIBA{}

func (CIBA) GetBackchannelRequestExpiry() time.Duration {
	return durationEnv("CIBA_REQUEST_EXPIRY", 2*time.Minute)
}

func (CIBA) GetPollInterval() time.Duration {
	return durationEnv("CIBA_POLL_INTERVAL", 5*time.Second)
}

func (CIBA) GetNotifyTimeout() time.Duration {
	return durationEnv("CIBA_NOTIFY_TIMEOUT", 10*time.Second)
}

func (CIBA) GetMaxPushAttempts() uint {
	raw := GetEnv("CIBA_MAX_PUSH_ATTEMPTS", "3")
	attempts, err := strconv.ParseUint(raw, 10, 8)
	if err != nil || attempts == 0 {
		return 3
	}
	return uint(attempts)
}

func durationEnv(envVar string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}
