package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
)

// testDB holds the shared database for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

var (
	// globalDB is initialized once in TestMain; nil means tests skip.
	globalDB  *testDB
	skipCause string
)

// sunday is the reference "today" for every test: 2024-06-02.
var sunday = time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

// TestMain uses TEST_DATABASE_URL when set and otherwise starts a throwaway
// postgres container. Without either the tests skip.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := databaseURL(ctx)
	if err != nil {
		if os.Getenv("TEST_DATABASE_URL") != "" {
			fmt.Fprintf(os.Stderr, "integration database: %v\n", err)
			os.Exit(1)
		}
		skipCause = err.Error()
		os.Exit(m.Run())
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to integration database: %v\n", err)
		cleanup()
		os.Exit(1)
	}

	globalDB = &testDB{Pool: pool, ConnStr: connStr}
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

func databaseURL(ctx context.Context) (string, func(), error) {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url, func() {}, nil
	}
	return startPostgresContainer(ctx)
}

func requireDB(t *testing.T) {
	t.Helper()
	if globalDB == nil {
		t.Skipf("no integration database: %s", skipCause)
	}
}

// newSchemaPool creates an isolated schema, applies the embedded migrations
// to it and returns a pool whose connections default to that schema.
func newSchemaPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	requireDB(t)
	ctx := context.Background()

	schema := "t_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	if _, err := globalDB.Pool.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(globalDB.ConnStr)
	if err != nil {
		t.Fatalf("parse conn string: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 8
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if _, err := globalDB.Pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}
	return pool
}

type pgEnv struct {
	pool  *pgxpool.Pool
	avail scheduling.AvailabilityRepository
	appts scheduling.AppointmentRepository
	svc   *scheduling.Service
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	pool := newSchemaPool(t)
	avail := scheduling.NewAvailabilityRepoPG(pool)
	appts := scheduling.NewAppointmentRepoPG(pool)
	return &pgEnv{
		pool:  pool,
		avail: avail,
		appts: appts,
		svc:   scheduling.NewService(avail, appts, db.NewTxManager(pool)),
	}
}

// declare opens start on weekday of the current week for each doctor.
func (e *pgEnv) declare(t *testing.T, weekday int, start scheduling.Label, doctors ...string) {
	t.Helper()
	for _, doc := range doctors {
		_, err := e.svc.DeclareAvailability(context.Background(), doc, 0,
			[]scheduling.AvailabilityEntry{{Weekday: weekday, StartTime: start}}, sunday)
		if err != nil {
			t.Fatalf("declare %s %s: %v", doc, start, err)
		}
	}
}

func (e *pgEnv) book(t *testing.T, req scheduling.BookingRequest) scheduling.BookingResult {
	t.Helper()
	return e.svc.BookSlots(context.Background(), []scheduling.BookingRequest{req}, sunday)[0]
}
