// Package identitycheck defines the narrow port the activation workflow uses
// to read verified applications from an identity-check provider.
package identitycheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"passculture/internal/beneficiaryimport/models"
	id "passculture/pkg/domain"
)

// ApplicationPayload is a provider-verified application.
type ApplicationPayload struct {
	ApplicationID  id.ApplicationID
	Source         models.Source
	FirstName      string
	LastName       string
	DateOfBirth    time.Time
	Email          string
	Phone          string
	PostalCode     string
	DepartmentCode string
	Civility       string
	Activity       string
	// Invalid explains why the provider record cannot be evaluated. Such
	// applications are rejected rather than fetched again.
	Invalid string
}

// Valid reports whether the payload carries the data eligibility needs.
func (p *ApplicationPayload) Valid() bool {
	return p.Invalid == "" && !p.DateOfBirth.IsZero()
}

// Provider fetches applications by id.
type Provider interface {
	GetApplication(ctx context.Context, applicationID id.ApplicationID) (*ApplicationPayload, error)
}

// ApplicationFetchError reports a provider failure. The workflow mutates
// nothing when it sees one, so callers may retry.
type ApplicationFetchError struct {
	ApplicationID id.ApplicationID
	Provider      string
	StatusCode    int
	Err           error
}

func (e *ApplicationFetchError) Error() string {
	msg := fmt.Sprintf("fetch application %s from %s", e.ApplicationID, e.Provider)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ApplicationFetchError) Unwrap() error { return e.Err }

func (e *ApplicationFetchError) Retryable() bool { return true }

// DepartmentCode derives the French department from a postal code. Overseas
// codes (97x, 98x) keep three digits.
func DepartmentCode(postalCode string) string {
	if len(postalCode) < 2 {
		return ""
	}
	if len(postalCode) >= 3 && (postalCode[:2] == "97" || postalCode[:2] == "98") {
		return postalCode[:3]
	}
	return postalCode[:2]
}

// InMemoryProvider serves applications registered with Put. It backs the
// in-memory server profile and workflow tests.
type InMemoryProvider struct {
	mu   sync.RWMutex
	apps map[id.ApplicationID]ApplicationPayload
	err  error
}

func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{apps: make(map[id.ApplicationID]ApplicationPayload)}
}

// Put registers or replaces an application.
func (p *InMemoryProvider) Put(app ApplicationPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apps[app.ApplicationID] = app
}

// FailWith makes every fetch fail with err until called with nil.
func (p *InMemoryProvider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *InMemoryProvider) GetApplication(_ context.Context, applicationID id.ApplicationID) (*ApplicationPayload, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, &ApplicationFetchError{ApplicationID: applicationID, Provider: "memory", Err: p.err}
	}
	app, ok := p.apps[applicationID]
	if !ok {
		return nil, &ApplicationFetchError{ApplicationID: applicationID, Provider: "memory", StatusCode: 404}
	}
	return &app, nil
}
