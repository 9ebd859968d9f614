package main

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMigrationPart(t *testing.T) {
	content := `
-- +migrate Up
CREATE TABLE invoices (id text);
ALTER TABLE invoices ADD COLUMN amount bigint;

-- +migrate Down
DROP TABLE invoices;
`
	t.Run("Extract Up", func(t *testing.T) {
		up := extractMigrationPart(content, "Up")
		assert.Contains(t, up, "CREATE TABLE invoices")
		assert.Contains(t, up, "ALTER TABLE invoices")
		assert.NotContains(t, up, "DROP TABLE invoices")
		assert.NotContains(t, up, "-- +migrate Up")
	})

	t.Run("Extract Down", func(t *testing.T) {
		down := extractMigrationPart(content, "Down")
		assert.Contains(t, down, "DROP TABLE invoices")
		assert.NotContains(t, down, "CREATE TABLE invoices")
	})
}

func TestSchemaMigration(t *testing.T) {
	content, err := os.ReadFile(filepath.Join("..", "..", "migrations", "0001_init.sql"))
	require.NoError(t, err)

	up := extractMigrationPart(string(content), "Up")
	assert.Contains(t, up, "CREATE TABLE IF NOT EXISTS invoices")
	assert.Contains(t, up, "WHERE status = 'completed'")
	assert.Contains(t, up, "uniq_transactions_settled_payment")
	assert.Contains(t, up, "UNIQUE (provider, event_id)")

	down := extractMigrationPart(string(content), "Down")
	assert.Contains(t, down, "DROP TABLE IF EXISTS payment_webhooks")
}

func writeMigration(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunMigrationsUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tmpDir := t.TempDir()
	applied := writeMigration(t, tmpDir, "0001_init.sql", "-- +migrate Up\nCREATE TABLE invoices (id text);")
	pending := writeMigration(t, tmpDir, "0002_more.sql", "-- +migrate Up\nCREATE TABLE refunds (id text);")

	mock.ExpectQuery("SELECT EXISTS.*schema_migrations").
		WithArgs("0001_init.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery("SELECT EXISTS.*schema_migrations").
		WithArgs("0002_more.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE refunds").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("0002_more.sql").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, runMigrationsUp(db, []string{applied, pending}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsDown(t *testing.T) {
	t.Run("Rolls back latest", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		file := writeMigration(t, t.TempDir(), "0001_init.sql",
			"-- +migrate Up\nCREATE TABLE invoices (id text);\n-- +migrate Down\nDROP TABLE invoices;")

		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_init.sql"))
		mock.ExpectExec("DROP TABLE invoices").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM schema_migrations").
			WithArgs("0001_init.sql").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, runMigrationsDown(db, []string{file}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nothing applied", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnError(sql.ErrNoRows)

		assert.NoError(t, runMigrationsDown(db, nil))
	})

	t.Run("Missing file", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0009_gone.sql"))

		assert.Error(t, runMigrationsDown(db, nil))
	})
}

func TestRun_UnknownMode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Error(t, run(db, "sideways", t.TempDir()))
}

func TestRootCmd(t *testing.T) {
	t.Run("Up via subcommand", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)

		orig := openDBFunc
		defer func() { openDBFunc = orig }()
		var gotDSN string
		openDBFunc = func(dsn string) (*sql.DB, error) {
			gotDSN = dsn
			return db, nil
		}

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectClose()

		cmd := rootCmd()
		cmd.SetArgs([]string{"up", "--db-url", "postgres://localhost/pay", "--dir", t.TempDir()})
		require.NoError(t, cmd.Execute())

		assert.Equal(t, "postgres://localhost/pay", gotDSN)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing DB_URL", func(t *testing.T) {
		t.Setenv("DB_URL", "")

		cmd := rootCmd()
		cmd.SetArgs([]string{"down"})
		assert.Error(t, cmd.Execute())
	})
}
