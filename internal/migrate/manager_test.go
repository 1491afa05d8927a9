package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_users.up.sql":   {Data: []byte("create table users (id text);\ninsert into users values ('a;b');")},
		"0001_users.down.sql": {Data: []byte("drop table users;")},
		"0002_roles.up.sql":   {Data: []byte("create table roles (id text);")},
		"README.md":           {Data: []byte("ignored")},
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table roles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_roles.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := NewManager(db, testFS()).Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_roles.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("create table if not exists audit_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from audit_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from audit_migrations").WithArgs("0001_users.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	last, err := NewManager(db, testFS(), WithMigrationsTable("audit_migrations")).Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0001_users.up.sql", last)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithoutDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0002_roles.up.sql"))

	_, err = NewManager(db, testFS()).Down(context.Background())
	require.ErrorContains(t, err, "missing down migration")
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("create table t (v text);\ninsert into t values ('x;y');\n")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "'x;y'")
}
