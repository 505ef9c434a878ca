// Package eligibility decides whether a verified application qualifies for a
// deposit. It is pure: no I/O, no clock, no ambient flags.
package eligibility

import (
	"fmt"
	"time"

	importmodels "passculture/internal/beneficiaryimport/models"
	depositmodels "passculture/internal/deposit/models"
	"passculture/internal/deposit/policy"
	"passculture/internal/featureflags"
	"passculture/internal/identitycheck"
	usermodels "passculture/internal/user/models"
)

// Reason names why an application was not granted a deposit.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonAlreadyImported    Reason = "already_imported"
	ReasonAlreadyBeneficiary Reason = "already_beneficiary"
	ReasonDuplicateIdentity  Reason = "duplicate_identity"
	ReasonUnderage           Reason = "underage"
	ReasonInvalidApplication Reason = "invalid_application"
)

// MinimumUnderageAge is the youngest age admitted on the UNDERAGE track.
const MinimumUnderageAge = 15

// EvaluationInput carries everything a decision depends on. Application must
// be non-nil.
type EvaluationInput struct {
	Application     *identitycheck.ApplicationPayload
	AlreadyImported bool
	CurrentStatus   importmodels.ImportStatus
	// ExistingUser holds the account registered under the application email.
	ExistingUser *usermodels.User
	// IdentityDuplicate holds a beneficiary sharing names and date of birth.
	IdentityDuplicate *usermodels.User
	// RequestedType is the track the caller asked for; nil means AGE18.
	RequestedType *depositmodels.EligibilityType
	Flags         featureflags.Flags
	Now           time.Time
}

// Decision is the outcome of Evaluate. Type is set only when the application
// is eligible.
type Decision struct {
	Type      depositmodels.EligibilityType
	Duplicate bool
	Rejected  bool
	Reason    Reason
	Detail    string
}

// Eligible reports whether the decision grants a deposit.
func (d Decision) Eligible() bool {
	return !d.Duplicate && !d.Rejected && d.Type != ""
}

// Evaluate applies the rule chain, first match wins:
//  1. already imported and not awaiting retry
//  2. provider record unusable (for example a malformed date of birth)
//  3. email bound to an existing beneficiary
//  4. another beneficiary with the same identity
//  5. under 18, unless admitted on the UNDERAGE track
//  6. eligible AGE18
func Evaluate(in EvaluationInput) Decision {
	app := in.Application

	if in.AlreadyImported && in.CurrentStatus != importmodels.StatusRetry {
		return Decision{
			Duplicate: true,
			Reason:    ReasonAlreadyImported,
			Detail:    fmt.Sprintf("application %s already imported", app.ApplicationID),
		}
	}

	if !app.Valid() {
		detail := app.Invalid
		if detail == "" {
			detail = "missing date of birth"
		}
		return Decision{
			Rejected: true,
			Reason:   ReasonInvalidApplication,
			Detail:   detail,
		}
	}

	if in.ExistingUser != nil && in.ExistingUser.IsBeneficiary {
		return Decision{
			Duplicate: true,
			Rejected:  true,
			Reason:    ReasonAlreadyBeneficiary,
			Detail:    fmt.Sprintf("user with email %s is already a beneficiary", in.ExistingUser.Email),
		}
	}

	if dup := in.IdentityDuplicate; dup != nil && (in.ExistingUser == nil || dup.ID != in.ExistingUser.ID) {
		return Decision{
			Duplicate: true,
			Reason:    ReasonDuplicateIdentity,
			Detail:    fmt.Sprintf("user with the same identity already a beneficiary: %s", dup.ID),
		}
	}

	if !IsAdult(app.DateOfBirth, in.Now) {
		if in.requested(depositmodels.EligibilityUnderage) && in.Flags.UnderageEligibility &&
			AgeAt(app.DateOfBirth, in.Now) >= MinimumUnderageAge {
			return Decision{Type: depositmodels.EligibilityUnderage}
		}
		return Decision{
			Rejected: true,
			Reason:   ReasonUnderage,
			Detail:   fmt.Sprintf("applicant born %s is under 18", app.DateOfBirth.Format(time.DateOnly)),
		}
	}

	return Decision{Type: depositmodels.EligibilityAge18}
}

func (in EvaluationInput) requested(t depositmodels.EligibilityType) bool {
	return in.RequestedType != nil && *in.RequestedType == t
}

// IsAdult reports whether now falls on or after the 18th birthday.
func IsAdult(dateOfBirth, now time.Time) bool {
	return !truncateToDate(now).Before(policy.EighteenthBirthday(dateOfBirth))
}

// AgeAt returns full years elapsed between dateOfBirth and now.
func AgeAt(dateOfBirth, now time.Time) int {
	by, bm, bd := dateOfBirth.Date()
	today := truncateToDate(now)
	age := today.Year() - by
	if today.Before(time.Date(today.Year(), bm, bd, 0, 0, 0, 0, time.UTC)) {
		age--
	}
	return age
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
