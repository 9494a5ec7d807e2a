package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/config"
	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("trader already running")
	ErrNotRunning     = errors.New("trader not running")

	errManagerClosed = errors.New("trader manager closed")
)

// Key identifies a loop.
type Key struct {
	UserID string `json:"userId"`
	Mint   string `json:"mint"`
}

func (k Key) String() string { return k.UserID + "/" + k.Mint }

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the registry of running loops keyed by (user, mint).
type Manager struct {
	cfg  config.TraderConfig
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[Key]*handle
	wg      sync.WaitGroup
}

// NewManager creates an empty registry. Loops outlive the requests that
// start them and end on Stop or Close.
func NewManager(cfg config.TraderConfig, deps Deps) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		deps:    deps.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[Key]*handle),
	}
}

// Start launches the loop for (userID, mint). A persisted record is picked
// up where it left off; otherwise a Flat record is written first.
func (m *Manager) Start(ctx context.Context, userID, mint string) error {
	key, err := m.checkStart(userID, mint)
	if err != nil {
		return err
	}

	saved, err := m.deps.Store.Get(ctx, userID, mint)
	switch {
	case errors.Is(err, store.ErrNotFound):
		saved = store.TraderState{UserID: userID, Mint: mint, State: string(Flat), CreatedAt: time.Now().UTC()}
		if err := m.deps.Store.Upsert(ctx, saved); err != nil {
			return fmt.Errorf("persist trader %s: %w", key, err)
		}
	case err != nil:
		return fmt.Errorf("load trader %s: %w", key, err)
	}
	return m.launch(saved)
}

// StartInPosition launches the loop for a position bought outside of it.
// The record is written as IN_POSITION at entry and the buy counts as a
// trade, so the loop goes straight to the take-profit check.
func (m *Manager) StartInPosition(ctx context.Context, userID, mint string, entry decimal.Decimal) error {
	key, err := m.checkStart(userID, mint)
	if err != nil {
		return err
	}
	if !entry.IsPositive() {
		return fmt.Errorf("start trader %s: entry price must be positive, got %s", key, entry)
	}

	now := time.Now().UTC()
	saved, err := m.deps.Store.Get(ctx, userID, mint)
	switch {
	case errors.Is(err, store.ErrNotFound):
		saved = store.TraderState{UserID: userID, Mint: mint, State: string(Flat), CreatedAt: now}
	case err != nil:
		return fmt.Errorf("load trader %s: %w", key, err)
	}
	from := saved.State
	saved.State = string(InPosition)
	saved.InPosition = true
	saved.EntryPrice = decimal.NewNullDecimal(entry)
	saved.TradeCount++
	saved.LastTradeAt = now
	if err := m.deps.Store.Upsert(ctx, saved); err != nil {
		return fmt.Errorf("persist trader %s: %w", key, err)
	}
	m.deps.Journal.SaveTransition(dbwriter.Transition{
		Time:   now,
		UserID: userID,
		Mint:   mint,
		From:   from,
		To:     string(InPosition),
		Price:  saved.EntryPrice,
		Note:   "position opened outside the loop",
	})
	return m.launch(saved)
}

func (m *Manager) checkStart(userID, mint string) (Key, error) {
	key := Key{UserID: userID, Mint: mint}
	if userID == "" || mint == "" {
		return key, fmt.Errorf("start trader: user and mint are required")
	}
	if m.ctx.Err() != nil {
		return key, errManagerClosed
	}
	if m.IsRunning(key) {
		return key, fmt.Errorf("%s: %w", key, ErrAlreadyRunning)
	}
	return key, nil
}

// Resume starts a loop for every persisted record that is not running yet
// and returns how many were started.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	saved, err := m.deps.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list traders: %w", err)
	}
	started := 0
	for _, s := range saved {
		if err := m.launch(s); err != nil {
			if !errors.Is(err, ErrAlreadyRunning) {
				m.deps.Logger.Warn("Failed to resume trader", zap.String("user", s.UserID), zap.String("mint", s.Mint), zap.Error(err))
			}
			continue
		}
		started++
	}
	m.deps.Logger.Info("Resumed persisted traders", zap.Int("count", started))
	return started, nil
}

func (m *Manager) launch(saved store.TraderState) error {
	key := Key{UserID: saved.UserID, Mint: saved.Mint}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return errManagerClosed
	}
	if _, ok := m.running[key]; ok {
		return fmt.Errorf("%s: %w", key, ErrAlreadyRunning)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	m.running[key] = h
	m.deps.Observer.SetActiveTraders(len(m.running))

	t := newTrader(m.cfg, m.deps, saved)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(h.done)
		_ = t.Run(ctx)

		m.mu.Lock()
		if m.running[key] == h {
			delete(m.running, key)
		}
		m.deps.Observer.SetActiveTraders(len(m.running))
		m.mu.Unlock()
	}()
	return nil
}

// Stop ends the loop for (userID, mint) and deletes its record.
func (m *Manager) Stop(ctx context.Context, userID, mint string) error {
	key := Key{UserID: userID, Mint: mint}
	m.mu.Lock()
	h, ok := m.running[key]
	m.mu.Unlock()
	if ok {
		h.cancel()
		<-h.done
	}

	err := m.deps.Store.Delete(ctx, userID, mint)
	if errors.Is(err, store.ErrNotFound) {
		if !ok {
			return fmt.Errorf("%s: %w", key, ErrNotRunning)
		}
		err = nil
	}
	if err != nil {
		return fmt.Errorf("delete trader %s: %w", key, err)
	}
	m.deps.Logger.Info("Trader stopped", zap.String("user", userID), zap.String("mint", mint))
	if err := m.deps.Notifier.Send(fmt.Sprintf("%s %s: auto trading stopped", userID, mint)); err != nil {
		m.deps.Logger.Debug("Failed to queue notification", zap.Error(err))
	}
	return nil
}

// IsRunning reports whether key has a live loop.
func (m *Manager) IsRunning(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[key]
	return ok
}

// Running lists the live loops.
func (m *Manager) Running() []Key {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.running))
	for k := range m.running {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Close stops every loop and keeps the records for the next Resume.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
