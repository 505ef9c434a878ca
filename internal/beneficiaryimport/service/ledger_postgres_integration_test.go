//go:build integration

package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"passculture/internal/beneficiaryimport/models"
	"passculture/internal/beneficiaryimport/service"
	"passculture/internal/beneficiaryimport/store"
	"passculture/internal/platform/postgres"
	"passculture/pkg/platform/tx"
	"passculture/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	ledger   *service.Ledger
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.postgres.DB))
	s.store = store.NewPostgres(s.postgres.DB)
	s.ledger = service.NewLedger(s.store, tx.NewPostgres(s.postgres.DB, 0))
}

func (s *PostgresLedgerSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"outbox", "beneficiary_import_statuses", "beneficiary_imports", "deposits", "users")
	s.Require().NoError(err)
}

// Concurrent first sights of one application must both land on a single
// import; the loser of the insert race appends to the winner's row.
func (s *PostgresLedgerSuite) TestConcurrentFirstSightAppendsToOneImport() {
	ctx := context.Background()
	const writers = 4

	var wg sync.WaitGroup
	errs := make([]error, writers)
	start := make(chan struct{})
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = s.ledger.Record(ctx, service.RecordRequest{
				ApplicationID: 77,
				Source:        models.SourceJouve,
				Status:        models.StatusRejected,
				Detail:        "not eligible",
			})
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		s.Require().NoError(err)
	}
	imp, err := s.store.FindByApplication(ctx, 77, models.JouveSourceID, models.SourceJouve)
	s.Require().NoError(err)
	s.Len(imp.History, writers)

	var imports int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM beneficiary_imports WHERE application_id = 77`).Scan(&imports))
	s.Equal(1, imports)
}
