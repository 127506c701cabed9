package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionName(t *testing.T) {
	cases := []struct {
		team string
		want string
	}{
		{"team_a", "team_team_a"},
		{"Team A", "team_team_a"},
		{"ops/2024", "team_ops_2024"},
		{"ACME-Corp", "team_acme_corp"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CollectionName(tc.team), "team %q", tc.team)
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := &PostgresConfig{
		Host:     "db.internal",
		Port:     5432,
		Username: "nexus",
		Password: "secret",
		Database: "nexus_rag",
	}
	assert.Equal(t,
		"host=db.internal port=5432 user=nexus password=secret dbname=nexus_rag sslmode=disable",
		cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}
