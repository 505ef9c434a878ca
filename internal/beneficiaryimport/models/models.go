package models

import (
	"errors"
	"fmt"
	"time"

	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
)

// ImportStatus is the lifecycle state of a beneficiary import.
type ImportStatus string

const (
	StatusCreated   ImportStatus = "CREATED"
	StatusDuplicate ImportStatus = "DUPLICATE"
	StatusRejected  ImportStatus = "REJECTED"
	StatusRetry     ImportStatus = "RETRY"
)

// Source identifies the identity-check provider that produced the application.
type Source string

const (
	SourceJouve Source = "jouve"
	SourceDMS   Source = "dms"
)

// JouveSourceID is the fixed source identifier for Jouve applications.
// DMS applications use their procedure number instead.
const JouveSourceID int64 = 1

var (
	ErrImportNotFound          = errors.New("beneficiary import not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// ParseImportStatus validates a raw status.
func ParseImportStatus(s string) (ImportStatus, error) {
	switch st := ImportStatus(s); st {
	case StatusCreated, StatusDuplicate, StatusRejected, StatusRetry:
		return st, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown import status %q", s))
	}
}

// ParseSource validates a raw source.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceJouve, SourceDMS:
		return src, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown import source %q", s))
	}
}

func (s ImportStatus) String() string { return string(s) }
func (s Source) String() string       { return string(s) }

// CheckTransition enforces the review policy: CREATED is terminal and a
// DUPLICATE import may only become REJECTED or RETRY.
func CheckTransition(from, to ImportStatus) error {
	switch from {
	case StatusCreated:
		return invalidTransition(from, to)
	case StatusDuplicate:
		switch to {
		case StatusRejected, StatusRetry:
			return nil
		case StatusCreated, StatusDuplicate:
			return invalidTransition(from, to)
		}
	case StatusRejected, StatusRetry:
		switch to {
		case StatusCreated, StatusDuplicate, StatusRejected, StatusRetry:
			return nil
		}
	}
	return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown transition %s -> %s", from, to))
}

func invalidTransition(from, to ImportStatus) error {
	return dErrors.Wrap(ErrInvalidStatusTransition, dErrors.CodeConflict,
		fmt.Sprintf("cannot move import from %s to %s", from, to))
}

// StatusEntry is one append-only ledger row. Seq is strictly increasing
// across the whole ledger, so it orders entries that share a timestamp.
type StatusEntry struct {
	Seq    int64
	Status ImportStatus
	Detail string
	Author string
	At     time.Time
}

// BeneficiaryImport tracks one application from first sight to activation or rejection.
type BeneficiaryImport struct {
	ID            id.ImportID
	ApplicationID id.ApplicationID
	SourceID      int64
	Source        Source
	UserID        *id.UserID
	CreatedAt     time.Time
	History       []StatusEntry
}

// Current returns the entry with the greatest Seq, or false for an empty history.
func (b *BeneficiaryImport) Current() (StatusEntry, bool) {
	if len(b.History) == 0 {
		return StatusEntry{}, false
	}
	latest := b.History[0]
	for _, e := range b.History[1:] {
		if e.Seq > latest.Seq {
			latest = e
		}
	}
	return latest, true
}

// CurrentStatus is the status of the latest entry.
func (b *BeneficiaryImport) CurrentStatus() (ImportStatus, bool) {
	e, ok := b.Current()
	return e.Status, ok
}

// Clone returns a deep copy.
func (b *BeneficiaryImport) Clone() *BeneficiaryImport {
	if b == nil {
		return nil
	}
	c := *b
	if b.UserID != nil {
		u := *b.UserID
		c.UserID = &u
	}
	c.History = append([]StatusEntry(nil), b.History...)
	return &c
}
