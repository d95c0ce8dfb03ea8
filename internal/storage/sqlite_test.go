package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "giveawaybot/pkg/logx"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "giveaways.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, newTestSQLite)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "nested", "g.db")}

	st, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	g := newTestGiveaway("c", "r")
	require.NoError(t, st.Create(ctx, g))
	_, err = st.AddEntry(ctx, g.Key(), "u1")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	list, err := st.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, []string{"u1"}, list[0].Entries)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "none"}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
}
