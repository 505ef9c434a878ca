// Package featureflags supplies the explicit flag values that select deposit
// policy versions and underage eligibility. Callers load a Flags value once
// and pass it down; nothing reads flags from ambient state.
package featureflags

import (
	"context"
	"maps"

	depositmodels "passculture/internal/deposit/models"
)

// Flags is a snapshot of the policy-relevant feature flags.
type Flags struct {
	// DepositVersions pins the active policy version per eligibility type.
	// A missing or zero entry selects the oldest version.
	DepositVersions     map[depositmodels.EligibilityType]int
	UnderageEligibility bool
}

// DepositVersion returns the pinned version for t, or 0 when unset.
func (f Flags) DepositVersion(t depositmodels.EligibilityType) int {
	return f.DepositVersions[t]
}

// Clone returns a copy with its own version map.
func (f Flags) Clone() Flags {
	c := f
	c.DepositVersions = maps.Clone(f.DepositVersions)
	return c
}

// Source loads the current flags.
type Source interface {
	Load(ctx context.Context) (Flags, error)
}

// Static always returns the same flags.
type Static struct {
	Flags Flags
}

func (s Static) Load(context.Context) (Flags, error) {
	return s.Flags.Clone(), nil
}
