package models

import (
	"strings"
	"time"

	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
	"passculture/pkg/email"
)

// User is a marketplace account. Activation may create it, fills its identity
// fields and flips IsBeneficiary; nothing here deletes it.
type User struct {
	ID             id.UserID
	Email          string
	FirstName      string
	LastName       string
	DateOfBirth    *time.Time
	Phone          string
	PostalCode     string
	DepartmentCode string
	Civility       string
	Activity       string
	IsBeneficiary  bool
	IsAdmin        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Identity is the subset of user fields supplied by an identity check.
type Identity struct {
	FirstName      string
	LastName       string
	DateOfBirth    time.Time
	Phone          string
	PostalCode     string
	DepartmentCode string
	Civility       string
	Activity       string
}

// NewUser builds an account for a normalized, valid email.
func NewUser(userID id.UserID, address string, now time.Time) (*User, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user ID required")
	}
	normalized := email.Normalize(address)
	if !email.IsValid(normalized) {
		return nil, dErrors.New(dErrors.CodeValidation, "valid email required")
	}
	return &User{
		ID:        userID,
		Email:     normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ApplyIdentity overwrites identity fields with the verified values.
// Empty optional fields keep whatever the user already had.
func (u *User) ApplyIdentity(identity Identity, now time.Time) {
	u.FirstName = strings.TrimSpace(identity.FirstName)
	u.LastName = strings.TrimSpace(identity.LastName)
	dob := identity.DateOfBirth
	u.DateOfBirth = &dob
	u.Phone = keepIfEmpty(identity.Phone, u.Phone)
	u.PostalCode = keepIfEmpty(identity.PostalCode, u.PostalCode)
	u.DepartmentCode = keepIfEmpty(identity.DepartmentCode, u.DepartmentCode)
	u.Civility = keepIfEmpty(identity.Civility, u.Civility)
	u.Activity = keepIfEmpty(identity.Activity, u.Activity)
	u.UpdatedAt = now
}

// MarkBeneficiary sets the beneficiary role flag.
func (u *User) MarkBeneficiary(now time.Time) {
	u.IsBeneficiary = true
	u.UpdatedAt = now
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.DateOfBirth != nil {
		dob := *u.DateOfBirth
		c.DateOfBirth = &dob
	}
	return &c
}

func keepIfEmpty(value, current string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return current
}
