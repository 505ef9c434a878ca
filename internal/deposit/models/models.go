package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
)

// EligibilityType is the policy track a deposit is granted under.
type EligibilityType string

const (
	EligibilityAge18    EligibilityType = "AGE18"
	EligibilityUnderage EligibilityType = "UNDERAGE"
)

// ErrDepositTypeAlreadyGranted means the user already holds a deposit of this type.
var ErrDepositTypeAlreadyGranted = errors.New("deposit type already granted")

// ParseEligibilityType validates a raw eligibility type.
func ParseEligibilityType(s string) (EligibilityType, error) {
	switch t := EligibilityType(s); t {
	case EligibilityAge18, EligibilityUnderage:
		return t, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown eligibility type %q", s))
	}
}

func (t EligibilityType) String() string { return string(t) }

// Deposit is a capped grant. Amount, version and expiry are frozen at creation.
type Deposit struct {
	ID             id.DepositID
	UserID         id.UserID
	Type           EligibilityType
	Version        int
	Amount         decimal.Decimal
	Source         string
	ExpirationDate *time.Time
	CreatedAt      time.Time
}

// IsExpired reports whether the grant can no longer be spent at now.
func (d *Deposit) IsExpired(now time.Time) bool {
	return d.ExpirationDate != nil && !now.Before(*d.ExpirationDate)
}
