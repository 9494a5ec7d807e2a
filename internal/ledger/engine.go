// Package ledger scores freshly created assets from the on-chain events
// observed in the last few slots.
package ledger

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Options tunes the engine.
type Options struct {
	WindowDepth      int
	DensityThreshold int
	RequiredBits     int
	MaxFreshAssets   int
	// SameAuthority enables the authority reuse heuristic.
	SameAuthority bool
	// Observer, when set, receives per-slot funding metrics for every asset
	// touched by an ingested event. It runs under the engine lock and must
	// not call back into the engine.
	Observer func(FundingMetric)
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		WindowDepth:      3,
		DensityThreshold: 3,
		RequiredBits:     2,
		MaxFreshAssets:   20,
		SameAuthority:    true,
	}
}

// FundingMetric summarizes the transfers touching one asset within a slot.
type FundingMetric struct {
	Mint                    string
	Slot                    uint64
	TransferCount           int
	UniqueSenders           int
	UniqueRecipients        int
	AmountSum               decimal.Decimal
	CleanFundingCandidate   bool
	CreatorExposedCandidate bool
}

// Signal is the read side view of an asset.
type Signal struct {
	Mint   string
	Mask   Mask
	Bits   int
	Strong bool
}

// Engine owns the slot window. All methods are safe for concurrent use.
type Engine struct {
	opts Options

	mu     sync.RWMutex
	window *Window
}

const maxSampleLogs = 16

var (
	ataKeywords    = []string{"associated", "ata", "associated token"}
	createKeywords = []string{"create", "initializemint", "createidempotent"}
	lpKeywords     = []string{"vault", "pool", "lp", "liquidity", "lp_mint"}
)

// New creates an engine. Zero-valued numeric options take their defaults.
func New(opts Options) *Engine {
	def := DefaultOptions()
	if opts.WindowDepth <= 0 {
		opts.WindowDepth = def.WindowDepth
	}
	if opts.DensityThreshold <= 0 {
		opts.DensityThreshold = def.DensityThreshold
	}
	if opts.MaxFreshAssets <= 0 {
		opts.MaxFreshAssets = def.MaxFreshAssets
	}
	if opts.RequiredBits < 0 {
		opts.RequiredBits = def.RequiredBits
	}
	return &Engine{opts: opts, window: NewWindow(opts.WindowDepth)}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// IngestJSON decodes a collector payload and ingests it. It reports whether
// the event was applied.
func (e *Engine) IngestJSON(data []byte) (bool, error) {
	ev, ok, err := DecodeEvent(data)
	if err != nil || !ok {
		return false, err
	}
	return e.Ingest(ev), nil
}

// Ingest applies one event to the window. Events without a slot are dropped
// and false is returned.
func (e *Engine) Ingest(ev Event) bool {
	if ev.Slot == 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.window.Bucket(ev.Slot)
	b.EventCount++

	assets := ev.FreshAssets
	if len(assets) > e.opts.MaxFreshAssets {
		assets = assets[:e.opts.MaxFreshAssets]
	}

	flags := eventFlags(ev)
	for _, asset := range assets {
		if asset == "" {
			continue
		}
		entry := b.entry(asset)
		entry.Flags |= flags
		entry.SeenSlots[ev.Slot] = struct{}{}
		for _, l := range ev.Logs {
			if len(entry.SampleLogs) >= maxSampleLogs {
				break
			}
			entry.SampleLogs = append(entry.SampleLogs, l)
		}
		if ev.Authority != "" {
			b.associate(ev.Authority, asset)
		}
	}

	b.Transfers = append(b.Transfers, ExtractTransfers(ev)...)

	for _, asset := range assets {
		if asset == "" {
			continue
		}
		entry := b.Mints[asset]
		if ataFunded(b, asset) {
			entry.Flags |= ATACreated | CleanFunding
		}
		// Derived bits are latched into the entry so the mask never loses
		// them while this bucket is retained.
		entry.Flags |= e.derived(asset)
		if e.opts.Observer != nil {
			e.opts.Observer(fundingMetric(b, asset))
		}
	}
	return true
}

func eventFlags(ev Event) Mask {
	var m Mask
	kind := strings.ToLower(ev.Kind)
	if strings.Contains(kind, "initialize") {
		m |= AccountCreated
	}
	if strings.Contains(kind, "pool") || strings.Contains(kind, "init") {
		m |= ProgramInit
	}
	logs := strings.ToLower(strings.Join(ev.Logs, "\n"))
	if containsAny(logs, ataKeywords) {
		m |= ATACreated
	}
	if containsAny(logs, createKeywords) {
		m |= AccountCreated
	}
	if ev.AltMintCreated {
		m |= AltMintCreated
	}
	return m
}

// ataFunded reports whether the slot created an associated token account
// and a transfer for asset lands in it.
func ataFunded(b *Bucket, asset string) bool {
	created := false
	for _, t := range b.Transfers {
		if strings.Contains(t.ProgramOrType, "create") && strings.Contains(strings.ToLower(t.Raw), "associated") {
			created = true
			break
		}
	}
	if !created {
		return false
	}
	for _, t := range b.Transfers {
		if !relevant(t, asset) {
			continue
		}
		if strings.Contains(strings.ToLower(t.To), "ata") || strings.Contains(strings.ToLower(t.Raw), "associated") {
			return true
		}
	}
	return false
}

// ScoreMask aggregates everything the retained window knows about asset.
// Window-level bits are recomputed on every call and also latched into the
// asset's entry when it is ingested, so a bit once reported stays set until
// that bucket is evicted. SlotAligned and CleanFunding can therefore outlive
// the condition that set them: an asset seen at slots 100 and 110 keeps the
// alignment latched at slot 100.
func (e *Engine) ScoreMask(asset string) Mask {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var m Mask
	e.window.Each(func(b *Bucket) {
		if entry, ok := b.Mints[asset]; ok {
			m |= entry.Flags
		}
	})
	return m | e.derived(asset)
}

// IsStrongSignal reports whether asset carries at least requiredBits signals.
func (e *Engine) IsStrongSignal(asset string, requiredBits int) bool {
	return e.ScoreMask(asset).Count() >= requiredBits
}

// Signal returns the mask and the strong verdict at the configured bit count.
func (e *Engine) Signal(asset string) Signal {
	m := e.ScoreMask(asset)
	return Signal{
		Mint:   asset,
		Mask:   m,
		Bits:   m.Count(),
		Strong: m.Count() >= e.opts.RequiredBits,
	}
}

// Slots returns the retained slots oldest first.
func (e *Engine) Slots() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window.Slots()
}

// BucketCount returns the number of retained buckets.
func (e *Engine) BucketCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window.Len()
}

// derived computes the window-level bits. Callers hold the lock.
func (e *Engine) derived(asset string) Mask {
	var (
		m        Mask
		present  bool
		minSlot  uint64
		maxSlot  uint64
		haveSeen bool
	)
	e.window.Each(func(b *Bucket) {
		// Density is a property of the slot, whichever assets filled it.
		if b.EventCount >= e.opts.DensityThreshold {
			m |= SlotDense
		}
		entry, ok := b.Mints[asset]
		if ok {
			present = true
			if containsAny(strings.ToLower(strings.Join(entry.SampleLogs, "\n")), lpKeywords) {
				m |= LPStructure
			}
			for s := range entry.SeenSlots {
				if !haveSeen || s < minSlot {
					minSlot = s
				}
				if !haveSeen || s > maxSlot {
					maxSlot = s
				}
				haveSeen = true
			}
		}
		if e.opts.SameAuthority {
			for _, set := range b.Authorities {
				if _, in := set[asset]; in && len(set) > 1 {
					m |= SameAuthority
					break
				}
			}
		}
		fm := fundingMetric(b, asset)
		if fm.CleanFundingCandidate {
			m |= CleanFunding
		}
		if fm.CreatorExposedCandidate {
			m |= CreatorExposed
		}
	})
	if present && haveSeen && maxSlot-minSlot <= 2 {
		m |= SlotAligned
	}
	return m
}

func relevant(t TransferRecord, asset string) bool {
	return t.To == asset || t.From == asset || strings.Contains(t.Raw, asset)
}

func recipientKey(t TransferRecord) string {
	switch {
	case t.To != "":
		return t.To
	case t.Raw != "":
		return t.Raw
	}
	return "__unk"
}

func senderKey(t TransferRecord) string {
	switch {
	case t.From != "":
		return t.From
	case t.Raw != "":
		return t.Raw
	}
	return "__unk"
}

// fundingMetric groups the bucket's transfers for asset by recipient. A
// group with at most two transfers from at most two senders is clean; a
// sender that is also a known authority in the slot exposes the creator.
func fundingMetric(b *Bucket, asset string) FundingMetric {
	fm := FundingMetric{Mint: asset, Slot: b.Slot}
	groups := make(map[string][]TransferRecord)
	senders := make(map[string]struct{})
	for _, t := range b.Transfers {
		if !relevant(t, asset) {
			continue
		}
		fm.TransferCount++
		if t.Amount.Valid {
			fm.AmountSum = fm.AmountSum.Add(t.Amount.Decimal)
		}
		k := recipientKey(t)
		groups[k] = append(groups[k], t)
		senders[senderKey(t)] = struct{}{}
	}
	fm.UniqueSenders = len(senders)
	fm.UniqueRecipients = len(groups)

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g := groups[k]
		from := make(map[string]struct{}, len(g))
		for _, t := range g {
			from[senderKey(t)] = struct{}{}
			if t.From != "" {
				if _, ok := b.Authorities[t.From]; ok {
					fm.CreatorExposedCandidate = true
				}
			}
		}
		if len(g) <= 2 && len(from) <= 2 {
			fm.CleanFundingCandidate = true
		}
	}
	return fm
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
