package store

import (
	"context"
	"encoding/json"
	"flag"
	"testing"

	"github.com/dockyard-archive/dockyard/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run these tests with
//  go test github.com/dockyard-archive/dockyard/store -db_postgres

var db_postgres = flag.Bool("db_postgres", false, "Run tests against Postgres")

func conx_postgres() config.ConfigDatabase {
	return config.ConfigDatabase{
		Driver:   "postgres",
		Host:     "localhost",
		Database: "unit_test_dockyard",
		User:     "unit_test_user",
		Password: "unit_test_password",
	}
}

func docs(s ...string) []json.RawMessage {
	raw := []json.RawMessage{}
	for _, d := range s {
		raw = append(raw, json.RawMessage(d))
	}
	return raw
}

func TestReplaceRejectsInvalidDocuments(t *testing.T) {
	// Validation happens before the database is touched, so this needs no server
	s := New(conx_postgres())
	defer s.Close()
	assert.Error(t, s.ReplaceCollection(context.Background(), "history", docs(`{"id": 1}`, `{"id": `)))
	assert.Equal(t, errEmptyCollectionName, s.ReplaceCollection(context.Background(), "", nil))
	_, err := s.LoadCollection(context.Background(), "")
	assert.Equal(t, errEmptyCollectionName, err)
}

func TestReplaceAndLoad(t *testing.T) {
	if !*db_postgres {
		t.Skip("Skipping Postgres test. Enable with -db_postgres")
	}
	ctx := context.Background()
	s := New(conx_postgres())
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.ReplaceCollection(ctx, "dockingRegister", docs(
		`{"id": "d1", "name": "John Smith"}`,
		`{"id": 2, "name": "Albert Jones"}`,
	)))
	require.NoError(t, s.ReplaceCollection(ctx, "history", docs(`{"id": 1, "title": "Origins"}`)))

	loaded, err := s.LoadCollection(ctx, "dockingRegister")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.JSONEq(t, `{"id": "d1", "name": "John Smith"}`, string(loaded[0]))
	assert.JSONEq(t, `{"id": 2, "name": "Albert Jones"}`, string(loaded[1]))

	// Replacing one collection leaves the others alone
	require.NoError(t, s.ReplaceCollection(ctx, "dockingRegister", docs(`{"id": "d9"}`)))
	loaded, err = s.LoadCollection(ctx, "dockingRegister")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
	loaded, err = s.LoadCollection(ctx, "history")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	loaded, err = s.LoadCollection(ctx, "noSuchCollection")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
