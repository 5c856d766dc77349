package config

import "time"

// MockConfig configures the offline mock backend served by `dashctl mock-backend`.
type MockConfig interface {
	GetMockAddr() string
	GetMockSecret() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
}

type Mock struct{}

var _ MockConfig = Mock{}

func (Mock) GetMockAddr() string {
	return GetEnv("MOCK_ADDR", ":8080")
}

func (Mock) GetMockSecret() string {
	return GetEnv("MOCK_SECRET", "dev-only-secret")
}

func (Mock) GetAccessTokenTTL() time.Duration {
	return GetDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
}

func (Mock) GetRefreshTokenTTL() time.Duration {
	return GetDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour) // 7 days
}
