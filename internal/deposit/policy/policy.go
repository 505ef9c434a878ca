// Package policy maps an eligibility type and policy version to a grant:
// a fixed monetary cap and an expiry rule. Lookups are pure.
package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"passculture/internal/deposit/models"
	"passculture/internal/featureflags"
	dErrors "passculture/pkg/domain-errors"
)

// ExpiryKind selects how a grant's expiration date is computed.
type ExpiryKind int

const (
	// ExpiryFixedDuration expires a fixed duration after the grant.
	ExpiryFixedDuration ExpiryKind = iota + 1
	// ExpiryEighteenthBirthday expires on the holder's 18th birthday.
	ExpiryEighteenthBirthday
)

// ExpiryRule computes a grant's expiration date.
type ExpiryRule struct {
	Kind     ExpiryKind
	Years    int
	Duration time.Duration
}

// ExpiresAt returns the expiration for a grant made at grantedAt.
func (r ExpiryRule) ExpiresAt(grantedAt time.Time, dateOfBirth *time.Time) (time.Time, error) {
	switch r.Kind {
	case ExpiryFixedDuration:
		return grantedAt.AddDate(r.Years, 0, 0).Add(r.Duration), nil
	case ExpiryEighteenthBirthday:
		if dateOfBirth == nil {
			return time.Time{}, dErrors.New(dErrors.CodeValidation, "date of birth required for birthday expiry")
		}
		return EighteenthBirthday(*dateOfBirth), nil
	default:
		return time.Time{}, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("unknown expiry kind %d", r.Kind))
	}
}

// Grant is the frozen outcome of a policy lookup.
type Grant struct {
	Type    models.EligibilityType
	Version int
	Cap     decimal.Decimal
	Expiry  ExpiryRule
}

// EighteenthBirthday returns midnight UTC on the 18th anniversary of dateOfBirth.
// A 29 February birth date rolls over to 1 March.
func EighteenthBirthday(dateOfBirth time.Time) time.Time {
	y, m, d := dateOfBirth.Date()
	return time.Date(y+18, m, d, 0, 0, 0, 0, time.UTC)
}

var twoYears = ExpiryRule{Kind: ExpiryFixedDuration, Years: 2}

// table lists versions oldest first per eligibility type.
var table = map[models.EligibilityType][]Grant{
	models.EligibilityAge18: {
		{Type: models.EligibilityAge18, Version: 1, Cap: decimal.RequireFromString("500.00"), Expiry: twoYears},
		{Type: models.EligibilityAge18, Version: 2, Cap: decimal.RequireFromString("300.00"), Expiry: twoYears},
	},
	models.EligibilityUnderage: {
		{Type: models.EligibilityUnderage, Version: 1, Cap: decimal.RequireFromString("30.00"), Expiry: ExpiryRule{Kind: ExpiryEighteenthBirthday}},
	},
}

// Compute looks up the grant for (t, version).
func Compute(t models.EligibilityType, version int) (Grant, error) {
	for _, g := range table[t] {
		if g.Version == version {
			return g, nil
		}
	}
	return Grant{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("no deposit policy for %s version %d", t, version))
}

// CurrentVersionFor returns the active version for t under flags. An unset
// flag selects the oldest version; a flag naming an unknown version is an error.
func CurrentVersionFor(t models.EligibilityType, flags featureflags.Flags) (int, error) {
	versions := table[t]
	if len(versions) == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("no deposit policy for %s", t))
	}
	pinned := flags.DepositVersion(t)
	if pinned == 0 {
		return versions[0].Version, nil
	}
	if _, err := Compute(t, pinned); err != nil {
		return 0, err
	}
	return pinned, nil
}
