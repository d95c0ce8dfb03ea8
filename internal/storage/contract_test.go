package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"giveawaybot/internal/giveaway"
)

// runStoreContract exercises the behaviour every driver must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	base := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	mk := func(community, ref string) giveaway.Giveaway {
		return giveaway.Giveaway{
			CommunityID: community,
			Reference:   ref,
			ExpiresAt:   base,
			Prize:       "Nitro",
			WinnerCount: 1,
			CreatedBy:   "42",
			CreatedAt:   base.Add(-time.Hour),
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		g := mk("-1001", "https://t.me/c/1/77")
		g.RequiredRole = "VIP"
		g.Message = "be nice"
		require.NoError(t, st.Create(ctx, g))

		got, err := st.Get(ctx, g.Key())
		require.NoError(t, err)
		require.Equal(t, giveaway.StateActive, got.State)
		require.Equal(t, "Nitro", got.Prize)
		require.Equal(t, "VIP", got.RequiredRole)
		require.Equal(t, "be nice", got.Message)
		require.Equal(t, 1, got.WinnerCount)
		require.True(t, got.ExpiresAt.Equal(base), "expires %v want %v", got.ExpiresAt, base)
		require.NotNil(t, got.Entries)
		require.Empty(t, got.Entries)
		require.True(t, got.EndedAt.IsZero())
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		g := mk("c", "r")
		require.NoError(t, st.Create(ctx, g))
		require.ErrorIs(t, st.Create(ctx, g), giveaway.ErrExists)
	})

	t.Run("CreateRejectsZeroWinners", func(t *testing.T) {
		st := newStore(t)
		g := mk("c", "r")
		g.WinnerCount = 0
		require.ErrorIs(t, st.Create(context.Background(), g), giveaway.ErrInvalidWinnerCount)
	})

	t.Run("GetMissing", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Get(context.Background(), giveaway.Key{CommunityID: "c", Reference: "nope"})
		require.ErrorIs(t, err, giveaway.ErrNotFound)
	})

	t.Run("EntriesKeepOrder", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		g := mk("c", "r")
		require.NoError(t, st.Create(ctx, g))

		for i, u := range []string{"u3", "u1", "u2"} {
			n, err := st.AddEntry(ctx, g.Key(), u)
			require.NoError(t, err)
			require.Equal(t, i+1, n)
		}
		_, err := st.AddEntry(ctx, g.Key(), "u1")
		require.ErrorIs(t, err, giveaway.ErrAlreadyEntered)

		n, err := st.RemoveEntry(ctx, g.Key(), "u1")
		require.NoError(t, err)
		require.Equal(t, 2, n)
		_, err = st.RemoveEntry(ctx, g.Key(), "u1")
		require.ErrorIs(t, err, giveaway.ErrNotEntered)

		got, err := st.Get(ctx, g.Key())
		require.NoError(t, err)
		require.Equal(t, []string{"u3", "u2"}, got.Entries)
	})

	t.Run("EntryOnMissing", func(t *testing.T) {
		st := newStore(t)
		_, err := st.AddEntry(context.Background(), giveaway.Key{CommunityID: "c", Reference: "x"}, "u")
		require.ErrorIs(t, err, giveaway.ErrNotFound)
	})

	t.Run("EndIsCompareAndSet", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		g := mk("c", "r")
		require.NoError(t, st.Create(ctx, g))
		_, err := st.AddEntry(ctx, g.Key(), "u1")
		require.NoError(t, err)

		at := time.Now().Truncate(time.Millisecond)
		ended, applied, err := st.End(ctx, g.Key(), at)
		require.NoError(t, err)
		require.True(t, applied)
		require.Equal(t, giveaway.StateEnded, ended.State)
		require.Equal(t, []string{"u1"}, ended.Entries)
		require.True(t, ended.EndedAt.Equal(at))

		again, applied, err := st.End(ctx, g.Key(), at.Add(time.Minute))
		require.NoError(t, err)
		require.False(t, applied)
		require.Equal(t, giveaway.StateEnded, again.State)
		require.True(t, again.EndedAt.Equal(at))

		_, err = st.AddEntry(ctx, g.Key(), "u2")
		require.ErrorIs(t, err, giveaway.ErrNotActive)
		_, err = st.RemoveEntry(ctx, g.Key(), "u1")
		require.ErrorIs(t, err, giveaway.ErrNotActive)

		got, err := st.Get(ctx, g.Key())
		require.NoError(t, err)
		require.Equal(t, []string{"u1"}, got.Entries)
	})

	t.Run("EndMissing", func(t *testing.T) {
		st := newStore(t)
		_, _, err := st.End(context.Background(), giveaway.Key{CommunityID: "c", Reference: "x"}, time.Now())
		require.ErrorIs(t, err, giveaway.ErrNotFound)
	})

	t.Run("ConcurrentEndAppliesOnce", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		g := mk("c", "r")
		require.NoError(t, st.Create(ctx, g))

		var (
			wg      sync.WaitGroup
			applied atomic.Int32
			failed  atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := st.End(ctx, g.Key(), time.Now())
				if err != nil {
					failed.Add(1)
					return
				}
				if ok {
					applied.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Zero(t, failed.Load())
		require.EqualValues(t, 1, applied.Load())
	})

	t.Run("ConcurrentEntriesAreCounted", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		g := mk("c", "r")
		require.NoError(t, st.Create(ctx, g))

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := st.AddEntry(ctx, g.Key(), fmt.Sprintf("u%d", i)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		got, err := st.Get(ctx, g.Key())
		require.NoError(t, err)
		require.Len(t, got.Entries, 20)
	})

	t.Run("EntriesRacingEnd", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		g := mk("c", "r")
		require.NoError(t, st.Create(ctx, g))

		var (
			wg       sync.WaitGroup
			accepted atomic.Int32
			ended    giveaway.Giveaway
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := st.AddEntry(ctx, g.Key(), fmt.Sprintf("u%d", i))
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, giveaway.ErrNotActive):
				default:
					t.Errorf("unexpected add error: %v", err)
				}
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			ended, _, err = st.End(ctx, g.Key(), time.Now())
			if err != nil {
				t.Errorf("end: %v", err)
			}
		}()
		wg.Wait()

		// Whatever was accepted is exactly what the transition closed over.
		got, err := st.Get(ctx, g.Key())
		require.NoError(t, err)
		require.Len(t, got.Entries, int(accepted.Load()))
		require.ElementsMatch(t, got.Entries, ended.Entries)
	})

	t.Run("ListActive", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		late := mk("c1", "late")
		late.ExpiresAt = base.Add(time.Hour)
		early := mk("c2", "early")
		gone := mk("c1", "gone")
		for _, g := range []giveaway.Giveaway{late, early, gone} {
			require.NoError(t, st.Create(ctx, g))
		}
		_, err := st.AddEntry(ctx, late.Key(), "u1")
		require.NoError(t, err)
		_, _, err = st.End(ctx, gone.Key(), time.Now())
		require.NoError(t, err)

		list, err := st.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, early.Key(), list[0].Key())
		require.Equal(t, late.Key(), list[1].Key())
		require.Equal(t, []string{"u1"}, list[1].Entries)
	})

	t.Run("ReferencesWithSeparators", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		g := mk("chat:1", "a.b:c[d]")
		require.NoError(t, st.Create(ctx, g))
		_, err := st.AddEntry(ctx, g.Key(), "u")
		require.NoError(t, err)

		list, err := st.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "a.b:c[d]", list[0].Reference)
		require.Equal(t, "chat:1", list[0].CommunityID)
	})

	t.Run("Audit", func(t *testing.T) {
		st := newStore(t)
		require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{
			ActorID:   42,
			ChatID:    -1001,
			Component: "giveaway",
			Action:    "start",
			Target:    "https://t.me/c/1/77",
			OK:        true,
			TookMS:    3,
		}))
	})
}
