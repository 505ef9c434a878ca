package domain

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "passculture/pkg/domain-errors"
)

// maxIDLength bounds raw identifiers at trust boundaries before parsing.
const maxIDLength = 64

// Typed IDs keep users, deposits and imports from being swapped by accident.
type (
	UserID    uuid.UUID
	DepositID uuid.UUID
	ImportID  uuid.UUID
)

// ApplicationID is the identity-check provider's numeric application identifier.
type ApplicationID int64

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id DepositID) String() string { return uuid.UUID(id).String() }
func (id ImportID) String() string  { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id DepositID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ImportID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

func (id ApplicationID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id ApplicationID) IsNil() bool    { return id <= 0 }

func NewUserID() UserID       { return UserID(uuid.New()) }
func NewDepositID() DepositID { return DepositID(uuid.New()) }
func NewImportID() ImportID   { return ImportID(uuid.New()) }

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

func ParseDepositID(s string) (DepositID, error) {
	u, err := parseUUID(s, "deposit ID")
	return DepositID(u), err
}

func ParseImportID(s string) (ImportID, error) {
	u, err := parseUUID(s, "import ID")
	return ImportID(u), err
}

// ParseApplicationID accepts a strictly positive decimal integer.
func ParseApplicationID(s string) (ApplicationID, error) {
	if err := checkRaw(s, "application ID"); err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "application ID must be an integer")
	}
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "application ID must be positive")
	}
	return ApplicationID(n), nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if err := checkRaw(s, label); err != nil {
		return uuid.Nil, err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

func checkRaw(s, label string) error {
	if strings.TrimSpace(s) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	if len(s) > maxIDLength || !utf8.ValidString(s) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return nil
}
