package featureflags

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	depositmodels "passculture/internal/deposit/models"
)

const (
	fieldUnderageEligibility = "underage_eligibility"
	fieldDepositVersionPfx   = "deposit_version:"
)

// RedisStore reads flag overrides from a Redis hash and layers them over defaults.
//
// Hash layout:
//
//	underage_eligibility     = "true" | "false"
//	deposit_version:AGE18    = "2"
//	deposit_version:UNDERAGE = "1"
type RedisStore struct {
	client   *redis.Client
	key      string
	defaults Flags
}

// NewRedisStore builds a Redis-backed flag source.
func NewRedisStore(client *redis.Client, key string, defaults Flags) *RedisStore {
	return &RedisStore{client: client, key: key, defaults: defaults}
}

func (s *RedisStore) Load(ctx context.Context) (Flags, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Flags{}, fmt.Errorf("load feature flags: %w", err)
	}
	flags := s.defaults.Clone()
	if flags.DepositVersions == nil {
		flags.DepositVersions = make(map[depositmodels.EligibilityType]int)
	}
	for field, raw := range values {
		switch {
		case field == fieldUnderageEligibility:
			enabled, err := strconv.ParseBool(raw)
			if err != nil {
				return Flags{}, fmt.Errorf("flag %s: %w", field, err)
			}
			flags.UnderageEligibility = enabled
		case strings.HasPrefix(field, fieldDepositVersionPfx):
			t, err := depositmodels.ParseEligibilityType(strings.TrimPrefix(field, fieldDepositVersionPfx))
			if err != nil {
				return Flags{}, fmt.Errorf("flag %s: %w", field, err)
			}
			version, err := strconv.Atoi(raw)
			if err != nil || version < 0 {
				return Flags{}, fmt.Errorf("flag %s: invalid version %q", field, raw)
			}
			flags.DepositVersions[t] = version
		}
	}
	return flags, nil
}

// SetUnderageEligibility toggles underage eligibility.
func (s *RedisStore) SetUnderageEligibility(ctx context.Context, enabled bool) error {
	return s.client.HSet(ctx, s.key, fieldUnderageEligibility, strconv.FormatBool(enabled)).Err()
}

// SetDepositVersion pins the policy version for t.
func (s *RedisStore) SetDepositVersion(ctx context.Context, t depositmodels.EligibilityType, version int) error {
	return s.client.HSet(ctx, s.key, fieldDepositVersionPfx+string(t), strconv.Itoa(version)).Err()
}
