package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	importmodels "passculture/internal/beneficiaryimport/models"
	depositmodels "passculture/internal/deposit/models"
	"passculture/internal/featureflags"
	"passculture/internal/identitycheck"
	usermodels "passculture/internal/user/models"
	id "passculture/pkg/domain"
)

var now = time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)

func application(applicationID id.ApplicationID, dob time.Time) *identitycheck.ApplicationPayload {
	return &identitycheck.ApplicationPayload{
		ApplicationID: applicationID,
		Source:        importmodels.SourceJouve,
		FirstName:     "Camille",
		LastName:      "Martin",
		DateOfBirth:   dob,
		Email:         "camille@example.com",
	}
}

func beneficiary(email string) *usermodels.User {
	return &usermodels.User{ID: id.NewUserID(), Email: email, IsBeneficiary: true}
}

func underage() *depositmodels.EligibilityType {
	t := depositmodels.EligibilityUnderage
	return &t
}

func TestEvaluateScenarios(t *testing.T) {
	t.Run("application 42 turning 18 today is eligible AGE18", func(t *testing.T) {
		d := Evaluate(EvaluationInput{
			Application: application(42, time.Date(2008, 10, 14, 0, 0, 0, 0, time.UTC)),
			Now:         now,
		})
		assert.True(t, d.Eligible())
		assert.Equal(t, depositmodels.EligibilityAge18, d.Type)
		assert.Equal(t, ReasonNone, d.Reason)
	})

	t.Run("application 43 with an email bound to a beneficiary is a rejected duplicate", func(t *testing.T) {
		d := Evaluate(EvaluationInput{
			Application:  application(43, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)),
			ExistingUser: beneficiary("camille@example.com"),
			Now:          now,
		})
		assert.False(t, d.Eligible())
		assert.True(t, d.Duplicate)
		assert.True(t, d.Rejected)
		assert.Equal(t, ReasonAlreadyBeneficiary, d.Reason)
		assert.NotEmpty(t, d.Detail)
	})
}

func TestEvaluateBirthdayBoundary(t *testing.T) {
	tests := []struct {
		name     string
		dob      time.Time
		eligible bool
	}{
		{"18 years and 0 days", time.Date(2008, 10, 14, 0, 0, 0, 0, time.UTC), true},
		{"one day younger", time.Date(2008, 10, 15, 0, 0, 0, 0, time.UTC), false},
		{"one day older", time.Date(2008, 10, 13, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(EvaluationInput{Application: application(1, tc.dob), Now: now})
			assert.Equal(t, tc.eligible, d.Eligible())
			if !tc.eligible {
				assert.True(t, d.Rejected)
				assert.Equal(t, ReasonUnderage, d.Reason)
			}
		})
	}
}

func TestEvaluateRulePriority(t *testing.T) {
	adult := time.Date(2000, 5, 5, 0, 0, 0, 0, time.UTC)

	t.Run("already imported wins over everything", func(t *testing.T) {
		d := Evaluate(EvaluationInput{
			Application:     application(1, adult),
			AlreadyImported: true,
			CurrentStatus:   importmodels.StatusCreated,
			ExistingUser:    beneficiary("camille@example.com"),
			Now:             now,
		})
		assert.True(t, d.Duplicate)
		assert.False(t, d.Rejected)
		assert.Equal(t, ReasonAlreadyImported, d.Reason)
	})

	t.Run("RETRY is evaluated again", func(t *testing.T) {
		d := Evaluate(EvaluationInput{
			Application:     application(1, adult),
			AlreadyImported: true,
			CurrentStatus:   importmodels.StatusRetry,
			Now:             now,
		})
		assert.True(t, d.Eligible())
	})

	t.Run("identity duplicate is flagged but not rejected", func(t *testing.T) {
		d := Evaluate(EvaluationInput{
			Application:       application(1, adult),
			IdentityDuplicate: beneficiary("other@example.com"),
			Now:               now,
		})
		assert.True(t, d.Duplicate)
		assert.False(t, d.Rejected)
		assert.Equal(t, ReasonDuplicateIdentity, d.Reason)
	})

	t.Run("identity match on the same account is not a duplicate", func(t *testing.T) {
		existing := &usermodels.User{ID: id.NewUserID(), Email: "camille@example.com"}
		same := *existing
		d := Evaluate(EvaluationInput{
			Application:       application(1, adult),
			ExistingUser:      existing,
			IdentityDuplicate: &same,
			Now:               now,
		})
		assert.True(t, d.Eligible())
	})

	t.Run("unusable provider record is rejected before identity checks", func(t *testing.T) {
		app := application(1, time.Time{})
		app.Invalid = `invalid birth date "2006-03-05"`
		d := Evaluate(EvaluationInput{
			Application:  app,
			ExistingUser: beneficiary("camille@example.com"),
			Now:          now,
		})
		assert.True(t, d.Rejected)
		assert.False(t, d.Duplicate)
		assert.Equal(t, ReasonInvalidApplication, d.Reason)
		assert.Equal(t, app.Invalid, d.Detail)
	})

	t.Run("missing date of birth is rejected", func(t *testing.T) {
		d := Evaluate(EvaluationInput{Application: application(1, time.Time{}), Now: now})
		assert.True(t, d.Rejected)
		assert.Equal(t, ReasonInvalidApplication, d.Reason)
	})

	t.Run("non-beneficiary existing user stays eligible", func(t *testing.T) {
		d := Evaluate(EvaluationInput{
			Application:  application(1, adult),
			ExistingUser: &usermodels.User{ID: id.NewUserID(), Email: "camille@example.com"},
			Now:          now,
		})
		assert.True(t, d.Eligible())
	})
}

func TestEvaluateUnderageTrack(t *testing.T) {
	sixteen := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	fourteen := time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC)
	enabled := featureflags.Flags{UnderageEligibility: true}

	tests := []struct {
		name      string
		dob       time.Time
		requested *depositmodels.EligibilityType
		flags     featureflags.Flags
		want      depositmodels.EligibilityType
	}{
		{"requested, enabled, old enough", sixteen, underage(), enabled, depositmodels.EligibilityUnderage},
		{"not requested", sixteen, nil, enabled, ""},
		{"flag disabled", sixteen, underage(), featureflags.Flags{}, ""},
		{"too young", fourteen, underage(), enabled, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(EvaluationInput{
				Application:   application(1, tc.dob),
				RequestedType: tc.requested,
				Flags:         tc.flags,
				Now:           now,
			})
			assert.Equal(t, tc.want, d.Type)
			if tc.want == "" {
				assert.Equal(t, ReasonUnderage, d.Reason)
			}
		})
	}

	t.Run("adult requesting UNDERAGE gets AGE18", func(t *testing.T) {
		d := Evaluate(EvaluationInput{
			Application:   application(1, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)),
			RequestedType: underage(),
			Flags:         enabled,
			Now:           now,
		})
		assert.Equal(t, depositmodels.EligibilityAge18, d.Type)
	})
}

func TestAgeAt(t *testing.T) {
	assert.Equal(t, 18, AgeAt(time.Date(2008, 10, 14, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 17, AgeAt(time.Date(2008, 10, 15, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 0, AgeAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), now))
}

func TestIsAdultLeapDay(t *testing.T) {
	dob := time.Date(2008, 2, 29, 0, 0, 0, 0, time.UTC)
	assert.False(t, IsAdult(dob, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)))
	assert.True(t, IsAdult(dob, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}
