package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "giveawaybot/pkg/logx"
)

// Set GIVEAWAYBOT_TEST_POSTGRES_DSN to run against a real server. Each test
// gets its own schema, dropped on cleanup.
func newTestPostgres(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("GIVEAWAYBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GIVEAWAYBOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	schema := fmt.Sprintf("giveawaybot_test_%d", time.Now().UnixNano())
	st, err := openPostgres(ctx, PostgresConfig{DSN: dsn, Schema: schema, MaxConns: 8}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = st.pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS `+schema+` CASCADE`)
		_ = st.Close()
	})
	return st
}

func TestPostgresStore(t *testing.T) {
	runStoreContract(t, newTestPostgres)
}

func TestPostgresRejectsBadSchema(t *testing.T) {
	_, err := newPostgresStore(context.Background(), nil, "bad-schema;", logx.Nop())
	require.Error(t, err)
}
