package datastore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lherron/rebind/internal/datastore"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/testutil"
)

func TestDialectPlaceholdersAndQuoting(t *testing.T) {
	tests := []struct {
		dialect   datastore.Dialect
		ph2       string
		quoted    string
		qualified string
	}{
		{dialect: datastore.DialectSQLite, ph2: "?", quoted: `"user_id"`, qualified: `"content"`},
		{dialect: datastore.DialectPostgres, ph2: "$2", quoted: `"user_id"`, qualified: `"app"."content"`},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			require.Equal(t, tt.ph2, tt.dialect.Placeholder(2))
			require.Equal(t, tt.quoted, tt.dialect.QuoteIdent("user_id"))
			schema := "app"
			if tt.dialect == datastore.DialectSQLite {
				schema = "main"
			}
			require.Equal(t, tt.qualified, tt.dialect.QualifiedTable(schema, "content"))
		})
	}
}

func TestDialectValidate(t *testing.T) {
	require.Error(t, datastore.Dialect("mysql").Validate())
	require.NoError(t, datastore.DialectPostgres.Validate())
}

func TestBuilderStatements(t *testing.T) {
	b := datastore.Builder{Dialect: datastore.DialectPostgres, Schema: "public"}
	binding := domain.Binding{Table: "content", Column: "user_id"}

	require.Equal(t, `UPDATE "public"."content" SET "user_id" = $1 WHERE "user_id" = $2`, b.Rewrite(binding))
	require.Equal(t, `SELECT COUNT(*) FROM "public"."content" WHERE "user_id" = $1`, b.CountReferences(binding))
	require.Equal(t, `DELETE FROM "public"."users" WHERE "id" = $1`, b.DeleteEntity(testutil.UsersEntity))
}

func TestSQLiteCatalog(t *testing.T) {
	store := testutil.TempStore(t)
	catalog := store.Catalog()
	ctx := context.Background()

	exists, err := catalog.TableExists(ctx, "", "content")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = catalog.TableExists(ctx, "main", "missing")
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = catalog.ColumnExists(ctx, "", "media", "user_id")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = catalog.ColumnExists(ctx, "", "media", "owner_id")
	require.NoError(t, err)
	require.False(t, exists)

	tables, err := catalog.Tables(ctx, "")
	require.NoError(t, err)
	require.NotContains(t, tables, "sqlite_sequence")
	require.Len(t, tables, 4)

	columns, err := catalog.Columns(ctx, "", "comments")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	require.Equal(t, "author_user_id", columns[1])
}

func TestFetchRow(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	ctx := context.Background()
	query := store.SQL().SelectEntity(testutil.UsersEntity)

	columns, row, found, err := datastore.FetchRow(ctx, store, query, "41")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, columns, 4)
	require.Equal(t, "id", columns[0])
	require.Equal(t, "old@example.com", row["email"])
	require.Equal(t, int64(41), row["id"])

	_, _, found, err = datastore.FetchRow(ctx, store, query, "999")
	require.NoError(t, err)
	require.False(t, found)
}

func TestFetchRowKeepsBlobBytes(t *testing.T) {
	store := testutil.TempStore(t)
	testutil.SeedScenario(t, store)
	testutil.Exec(t, store.DB, "ALTER TABLE users ADD COLUMN avatar BLOB")
	testutil.Exec(t, store.DB, "UPDATE users SET avatar = x'FF00FE89' WHERE id = 41")

	_, row, found, err := datastore.FetchRow(context.Background(), store, store.SQL().SelectEntity(testutil.UsersEntity), "41")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{0xff, 0x00, 0xfe, 0x89}, row["avatar"])
	require.IsType(t, "", row["email"])
}
