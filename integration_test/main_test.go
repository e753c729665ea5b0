package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
	pgtc "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

// truncatedTables lists every table reset between tests.
var truncatedTables = []string{
	"exhausted_relay_tasks",
	"custom_field_values",
	"custom_field_definitions",
	"conversions",
	"leads",
	"visitors",
	"messages",
	"conversations",
	"contacts",
	"channel_instances",
	"companies",
}

// BaseIntegrationSuite starts Postgres and NATS once and gives every test a migrated, empty schema.
type BaseIntegrationSuite struct {
	suite.Suite
	Postgres    testcontainers.Container
	PostgresDSN string
	NATS        testcontainers.Container
	NATSURL     string
	Repo        *storage.PostgresRepo
	Ctx         context.Context
	cancel      context.CancelFunc
}

// SetupSuite runs once before the tests in the suite are run.
func (s *BaseIntegrationSuite) SetupSuite() {
	s.Ctx, s.cancel = context.WithCancel(context.Background())
	logger.Log = zaptest.NewLogger(s.T()).Named("integration")
	startTime := time.Now()

	var err error
	s.Postgres, s.PostgresDSN, err = startPostgres(s.Ctx)
	if err != nil {
		s.T().Fatalf("Failed to start postgres: %v", err)
	}

	s.NATS, s.NATSURL, err = startNATSContainer(s.Ctx)
	if err != nil {
		s.T().Fatalf("Failed to start NATS: %v", err)
	}

	s.Repo, err = storage.NewPostgresRepo(s.PostgresDSN, true, storage.PoolOptions{MaxOpenConns: 10})
	if err != nil {
		s.T().Fatalf("Failed to initialize postgres repository: %v", err)
	}

	log.Printf("BaseIntegrationSuite setup complete in %v", time.Since(startTime))
}

// TearDownSuite runs once after all tests in the suite have finished.
func (s *BaseIntegrationSuite) TearDownSuite() {
	if s.Repo != nil {
		_ = s.Repo.Close(s.Ctx)
	}
	if s.NATS != nil {
		if err := s.NATS.Terminate(s.Ctx); err != nil {
			s.T().Logf("Error terminating NATS container: %v", err)
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Terminate(s.Ctx); err != nil {
			s.T().Logf("Error terminating PostgreSQL container: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// SetupTest truncates every table so tests start from a clean state.
func (s *BaseIntegrationSuite) SetupTest() {
	s.Require().NoError(truncatePostgresTables(s.Ctx, s.PostgresDSN), "Failed to truncate PostgreSQL tables")
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	pgContainer, err := pgtc.Run(ctx,
		"postgres:17-bookworm",
		pgtc.WithDatabase("crm"),
		pgtc.WithUsername("postgres"),
		pgtc.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return pgContainer, "", fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}
	return pgContainer, dsn, nil
}

func startNATSContainer(ctx context.Context) (testcontainers.Container, string, error) {
	natsContainer, err := tcnats.Run(ctx,
		"nats:2.11-alpine",
		tcnats.WithArgument("name", "test-nats-server"),
		tcnats.WithArgument("store_dir", "/data"),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start NATS container: %w", err)
	}

	natsURL, err := natsContainer.ConnectionString(ctx)
	if err != nil {
		return natsContainer, "", fmt.Errorf("failed to get NATS connection string: %w", err)
	}
	return natsContainer, natsURL, nil
}

func truncatePostgresTables(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, table := range truncatedTables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// ExecuteNonQuery runs a statement against the suite database.
func (s *BaseIntegrationSuite) ExecuteNonQuery(query string, args ...interface{}) error {
	db, err := sql.Open("postgres", s.PostgresDSN)
	if err != nil {
		return fmt.Errorf("ExecuteNonQuery: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(s.Ctx, 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ExecuteNonQuery: %w. Query: %s, Args: %v", err, query, args)
	}
	return nil
}

// CountRows returns the number of rows in table matching where.
func (s *BaseIntegrationSuite) CountRows(table, where string, args ...interface{}) int {
	db, err := sql.Open("postgres", s.PostgresDSN)
	s.Require().NoError(err)
	defer db.Close()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	s.Require().NoError(db.QueryRowContext(s.Ctx, query, args...).Scan(&n), query)
	return n
}

// SeedTenant inserts a company and one channel instance it owns.
func (s *BaseIntegrationSuite) SeedTenant() (*model.Company, *model.ChannelInstance) {
	company := model.NewCompany()
	inst := model.NewChannelInstance(&model.ChannelInstance{CompanyID: company.ID})

	s.Require().NoError(s.ExecuteNonQuery(
		`INSERT INTO companies (id, name, api_key, created_at, updated_at) VALUES ($1, $2, $3, now(), now())`,
		company.ID, company.Name, company.APIKey,
	))
	s.Require().NoError(s.ExecuteNonQuery(
		`INSERT INTO channel_instances (id, instance_name, company_id, owner_phone, token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())`,
		inst.ID, inst.InstanceName, inst.CompanyID, inst.OwnerPhone, inst.Token,
	))
	return company, inst
}

func TestBaseSuiteConnectivity(t *testing.T) {
	suite.Run(t, new(connectivitySuite))
}

type connectivitySuite struct {
	BaseIntegrationSuite
}

func (s *connectivitySuite) TestPingAndMigratedTables() {
	s.Require().NoError(s.Repo.Ping(s.Ctx))
	for _, table := range truncatedTables {
		s.Equal(0, s.CountRows(table, ""), table)
	}
}
