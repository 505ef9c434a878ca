// Package jouve is the HTTP adapter for the Jouve identity-check API.
package jouve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"passculture/internal/beneficiaryimport/models"
	"passculture/internal/identitycheck"
	id "passculture/pkg/domain"
)

const (
	providerName       = "jouve"
	authenticatePath   = "/REST/server/authenticationtokens"
	getJeuneByIDPath   = "/REST/vault/extensionmethod/VEM_GetJeuneByID"
	headerAuthToken    = "X-Authentication"
	birthDateLayout    = "02/01/2006"
	tokenExpiration    = "PT5M"
	defaultHTTPTimeout = 10 * time.Second
)

// Config holds Jouve credentials.
type Config struct {
	Host     string
	Username string
	Password string
	VaultKey string
	Timeout  time.Duration
}

// Client fetches verified applications from Jouve. Each call authenticates
// first; tokens are short-lived on the Jouve side.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

type Option func(c *Client)

// WithHTTPClient overrides the transport, mostly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New constructs a Jouve client.
func New(cfg Config, opts ...Option) *Client {
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type authenticateRequest struct {
	Username   string `json:"Username"`
	Password   string `json:"Password"`
	VaultGuid  string `json:"VaultGuid"`
	Expiration string `json:"Expiration"`
}

type authenticateResponse struct {
	Value string `json:"Value"`
}

// Jeune is the GetJeuneByID response body.
type Jeune struct {
	ID          json.Number `json:"id"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	BirthDate   string      `json:"birthDate"`
	Email       string      `json:"email"`
	PhoneNumber string      `json:"phoneNumber"`
	PostalCode  string      `json:"postalCode"`
	Gender      string      `json:"gender"`
	Activity    string      `json:"activity"`
}

// GetApplication implements identitycheck.Provider.
func (c *Client) GetApplication(ctx context.Context, applicationID id.ApplicationID) (*identitycheck.ApplicationPayload, error) {
	j, err := c.GetJeuneByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return toPayload(applicationID, j)
}

// GetJeuneByID returns the raw Jouve record for applicationID.
func (c *Client) GetJeuneByID(ctx context.Context, applicationID id.ApplicationID) (*Jeune, error) {
	token, err := c.authenticate(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	body := bytes.NewBufferString(strconv.FormatInt(int64(applicationID), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+getJeuneByIDPath, body)
	if err != nil {
		return nil, fetchError(applicationID, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAuthToken, token)

	var j Jeune
	if err := c.do(req, applicationID, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) authenticate(ctx context.Context, applicationID id.ApplicationID) (string, error) {
	payload, err := json.Marshal(authenticateRequest{
		Username:   c.cfg.Username,
		Password:   c.cfg.Password,
		VaultGuid:  c.cfg.VaultKey,
		Expiration: tokenExpiration,
	})
	if err != nil {
		return "", fetchError(applicationID, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+authenticatePath, bytes.NewReader(payload))
	if err != nil {
		return "", fetchError(applicationID, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp authenticateResponse
	if err := c.do(req, applicationID, &resp); err != nil {
		return "", err
	}
	if resp.Value == "" {
		return "", fetchError(applicationID, 0, errors.New("empty authentication token"))
	}
	return resp.Value, nil
}

func (c *Client) do(req *http.Request, applicationID id.ApplicationID, dst any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fetchError(applicationID, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fetchError(applicationID, resp.StatusCode, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fetchError(applicationID, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func toPayload(applicationID id.ApplicationID, j *Jeune) (*identitycheck.ApplicationPayload, error) {
	postalCode := strings.TrimSpace(j.PostalCode)
	payload := &identitycheck.ApplicationPayload{
		ApplicationID:  applicationID,
		Source:         models.SourceJouve,
		FirstName:      strings.TrimSpace(j.FirstName),
		LastName:       strings.TrimSpace(j.LastName),
		Email:          strings.TrimSpace(j.Email),
		Phone:          strings.TrimSpace(j.PhoneNumber),
		PostalCode:     postalCode,
		DepartmentCode: identitycheck.DepartmentCode(postalCode),
		Civility:       civility(j.Gender),
		Activity:       strings.TrimSpace(j.Activity),
	}
	// A malformed record will not improve on refetch; flag it for rejection.
	dob, err := time.ParseInLocation(birthDateLayout, strings.TrimSpace(j.BirthDate), time.UTC)
	if err != nil {
		payload.Invalid = fmt.Sprintf("invalid birth date %q", j.BirthDate)
		return payload, nil
	}
	payload.DateOfBirth = dob
	return payload, nil
}

func civility(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male", "m":
		return "M."
	case "female", "f":
		return "Mme"
	default:
		return ""
	}
}

func fetchError(applicationID id.ApplicationID, status int, err error) error {
	return &identitycheck.ApplicationFetchError{
		ApplicationID: applicationID,
		Provider:      providerName,
		StatusCode:    status,
		Err:           err,
	}
}
