package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/store"
)

type gaugeObserver struct {
	mu     sync.Mutex
	active int
}

func (g *gaugeObserver) ObserveTransition(string) {}

func (g *gaugeObserver) SetActiveTraders(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = n
}

func (g *gaugeObserver) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func newTestManager(st store.Store) (*Manager, *gaugeObserver) {
	obs := &gaugeObserver{}
	m := NewManager(testConfig(), Deps{
		Executor:   &fakeExecutor{balance: d("1")},
		Prices:     prices("1"),
		Indicators: fixedConfirmer(0),
		Store:      st,
		Journal:    dbwriter.NewInMemWriter(),
		Observer:   obs,
		Logger:     zap.NewNop(),
	})
	return m, obs
}

func TestManager_StartStop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m, obs := newTestManager(st)
	defer m.Close()

	require.NoError(t, m.Start(ctx, "u1", "MintA"))
	assert.True(t, m.IsRunning(Key{"u1", "MintA"}))
	assert.Equal(t, 1, obs.value())

	saved, err := st.Get(ctx, "u1", "MintA")
	require.NoError(t, err)
	assert.Equal(t, string(Flat), saved.State)
	assert.False(t, saved.CreatedAt.IsZero())

	assert.ErrorIs(t, m.Start(ctx, "u1", "MintA"), ErrAlreadyRunning)
	require.NoError(t, m.Start(ctx, "u1", "MintB"), "pairs are independent")
	assert.Equal(t, []Key{{"u1", "MintA"}, {"u1", "MintB"}}, m.Running())

	require.NoError(t, m.Stop(ctx, "u1", "MintA"))
	assert.False(t, m.IsRunning(Key{"u1", "MintA"}))
	_, err = st.Get(ctx, "u1", "MintA")
	assert.ErrorIs(t, err, store.ErrNotFound, "stop deletes the record")
	assert.Eventually(t, func() bool { return obs.value() == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, m.Stop(ctx, "u1", "MintA"), ErrNotRunning)
}

func TestManager_StartValidates(t *testing.T) {
	m, _ := newTestManager(store.NewMemory())
	defer m.Close()
	assert.Error(t, m.Start(context.Background(), "", "MintA"))
	assert.Error(t, m.Start(context.Background(), "u1", ""))
}

func TestManager_StopDeletesIdleRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Upsert(ctx, store.TraderState{UserID: "u1", Mint: "MintA", State: string(Flat)}))
	m, _ := newTestManager(st)
	defer m.Close()

	require.NoError(t, m.Stop(ctx, "u1", "MintA"))
	_, err := st.Get(ctx, "u1", "MintA")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_ResumeAndClose(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Upsert(ctx, store.TraderState{UserID: "u1", Mint: "MintA", State: string(InPosition), InPosition: true}))
	require.NoError(t, st.Upsert(ctx, store.TraderState{UserID: "u2", Mint: "MintB", State: string(Entering)}))

	m, _ := newTestManager(st)
	n, err := m.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, m.Running(), 2)

	n, err = m.Resume(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "running loops are not started twice")

	m.Close()
	assert.Empty(t, m.Running())
	states, err := st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 2, "close keeps records for the next resume")
	assert.Error(t, m.Start(ctx, "u3", "MintC"), "closed manager refuses new loops")
}

func TestManager_StartInPositionTakesProfit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	cfg := testConfig()
	cfg.CooldownMs = 0
	exec := &fakeExecutor{balance: d("1"), sellAmount: 1_000_000_000}
	journal := dbwriter.NewInMemWriter()
	m := NewManager(cfg, Deps{
		Executor:   exec,
		Prices:     prices("1.02"),
		Indicators: fixedConfirmer(0),
		Store:      st,
		Journal:    journal,
		Logger:     zap.NewNop(),
	})
	defer m.Close()

	require.NoError(t, m.StartInPosition(ctx, "u1", "MintA", d("1")))
	assert.ErrorIs(t, m.StartInPosition(ctx, "u1", "MintA", d("1")), ErrAlreadyRunning)

	assert.Eventually(t, func() bool {
		_, sells := exec.counts()
		return sells >= 1
	}, time.Second, 5*time.Millisecond)

	buys, _ := exec.counts()
	assert.Zero(t, buys)
	transitions := journal.TransitionsSnapshot()
	require.NotEmpty(t, transitions)
	assert.Equal(t, string(InPosition), transitions[0].To)
	assert.True(t, d("1").Equal(transitions[0].Price.Decimal))
}

func TestManager_StartInPositionPersists(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Upsert(ctx, store.TraderState{UserID: "u1", Mint: "MintA", State: string(Flat), TradeCount: 2, CreatedAt: created}))
	m, _ := newTestManager(st)
	defer m.Close()

	assert.Error(t, m.StartInPosition(ctx, "u1", "MintA", decimal.Zero))
	require.NoError(t, m.StartInPosition(ctx, "u1", "MintA", d("0.5")))

	saved, err := st.Get(ctx, "u1", "MintA")
	require.NoError(t, err)
	assert.True(t, saved.InPosition)
	assert.True(t, d("0.5").Equal(saved.EntryPrice.Decimal))
	assert.Equal(t, 3, saved.TradeCount)
	assert.False(t, saved.LastTradeAt.IsZero())
	assert.True(t, created.Equal(saved.CreatedAt), "an existing record keeps its creation time")
}
