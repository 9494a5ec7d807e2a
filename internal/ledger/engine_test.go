package ledger

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assetX = "MintX1111111111111111111111111111111111111"

func newTestEngine(mutate func(*Options)) *Engine {
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func TestEngine_InitializeScenario(t *testing.T) {
	e := newTestEngine(nil)
	ok := e.Ingest(Event{
		Slot:        100,
		Kind:        "initialize",
		FreshAssets: []string{assetX},
		Logs:        []string{"createIdempotent"},
	})
	require.True(t, ok)

	m := e.ScoreMask(assetX)
	assert.True(t, m.Has(AccountCreated))
	assert.True(t, m.Has(ProgramInit))
	assert.True(t, m.Has(SlotAligned))
	assert.False(t, m.Has(SlotDense))
	assert.False(t, m.Has(CleanFunding))
	assert.Equal(t, 3, m.Count())
	assert.True(t, e.IsStrongSignal(assetX, 2))
	assert.False(t, e.IsStrongSignal(assetX, 4))
}

func TestEngine_DropsEventWithoutSlot(t *testing.T) {
	e := newTestEngine(nil)
	assert.False(t, e.Ingest(Event{Kind: "initialize", FreshAssets: []string{assetX}}))
	assert.Equal(t, 0, e.BucketCount())

	applied, err := e.IngestJSON([]byte(`{"kind":"initialize","freshMints":["X"]}`))
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = e.IngestJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestEngine_RetainsAtMostDepthBuckets(t *testing.T) {
	e := newTestEngine(nil)
	for slot := uint64(1); slot <= 5; slot++ {
		e.Ingest(Event{Slot: slot, Kind: "initialize", FreshAssets: []string{fmt.Sprintf("asset-%d", slot)}})
		want := int(slot)
		if want > 3 {
			want = 3
		}
		assert.Equal(t, want, e.BucketCount())
	}
	assert.Equal(t, []uint64{3, 4, 5}, e.Slots())
	assert.Equal(t, Mask(0), e.ScoreMask("asset-1"), "evicted slot history must be gone")
	assert.NotEqual(t, Mask(0), e.ScoreMask("asset-5"))
}

func TestEngine_EvictionFollowsFirstSightOrder(t *testing.T) {
	e := newTestEngine(func(o *Options) { o.WindowDepth = 2 })
	e.Ingest(Event{Slot: 50, FreshAssets: []string{"a"}})
	e.Ingest(Event{Slot: 10, FreshAssets: []string{"b"}})
	// revisiting slot 50 does not refresh its position
	e.Ingest(Event{Slot: 50, FreshAssets: []string{"a"}})
	e.Ingest(Event{Slot: 70, FreshAssets: []string{"c"}})
	assert.Equal(t, []uint64{10, 70}, e.Slots())
}

func TestEngine_MaskIsMonotoneWhileRetained(t *testing.T) {
	e := newTestEngine(nil)
	var prev Mask
	events := []Event{
		{Slot: 200, Kind: "initialize", FreshAssets: []string{assetX}, Logs: []string{"create"}},
		{Slot: 200, FreshAssets: []string{assetX}, Tx: transferTx("s1", assetX, "1")},
		{Slot: 200, FreshAssets: []string{assetX}, Tx: transferTx("s2", assetX, "1")},
		{Slot: 200, FreshAssets: []string{assetX}, Tx: transferTx("s3", assetX, "1")},
		{Slot: 201, FreshAssets: []string{assetX}, Logs: []string{"pool vault"}},
		{Slot: 202, FreshAssets: []string{assetX}, Authority: "auth"},
	}
	for i, ev := range events {
		require.True(t, e.Ingest(ev))
		cur := e.ScoreMask(assetX)
		assert.Equal(t, prev, cur&prev, "event %d dropped bits: prev=%s cur=%s", i, prev, cur)
		prev = cur
	}
	assert.True(t, prev.Has(CleanFunding), "clean funding latched before the group grew")
	assert.True(t, prev.Has(SlotDense))
	assert.True(t, prev.Has(LPStructure))
}

func TestEngine_ScoreMaskIsPure(t *testing.T) {
	e := newTestEngine(nil)
	e.Ingest(Event{Slot: 1, Kind: "pool-init", FreshAssets: []string{assetX}, Authority: "auth"})
	e.Ingest(Event{Slot: 2, FreshAssets: []string{assetX, "other"}, Authority: "auth"})
	first := e.ScoreMask(assetX)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.ScoreMask(assetX))
	}
	assert.Equal(t, 2, e.BucketCount())
}

func TestEngine_SameAuthority(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		want    bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(func(o *Options) { o.SameAuthority = tt.enabled })
			e.Ingest(Event{Slot: 9, FreshAssets: []string{assetX}, Authority: "deployer"})
			e.Ingest(Event{Slot: 9, FreshAssets: []string{"sibling"}, Authority: "deployer"})
			assert.Equal(t, tt.want, e.ScoreMask(assetX).Has(SameAuthority))
		})
	}

	e := newTestEngine(nil)
	e.Ingest(Event{Slot: 9, FreshAssets: []string{assetX}, Authority: "alone"})
	assert.False(t, e.ScoreMask(assetX).Has(SameAuthority))
}

func TestEngine_FlagsFromKeywords(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want Mask
	}{
		{"associated token log", Event{Logs: []string{"Program log: associated token account"}}, ATACreated},
		{"initializeMint log", Event{Logs: []string{"Instruction: InitializeMint"}}, AccountCreated},
		{"pool kind", Event{Kind: "pool_created"}, ProgramInit},
		{"alt mint", Event{AltMintCreated: true}, AltMintCreated},
		{"lp log", Event{Logs: []string{"lp_mint set"}}, LPStructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(nil)
			ev := tt.ev
			ev.Slot = 42
			ev.FreshAssets = []string{assetX}
			e.Ingest(ev)
			assert.True(t, e.ScoreMask(assetX).Has(tt.want), "mask %s", e.ScoreMask(assetX))
		})
	}
}

func TestEngine_CapsFreshAssets(t *testing.T) {
	e := newTestEngine(nil)
	assets := make([]string, 25)
	for i := range assets {
		assets[i] = fmt.Sprintf("a%02d", i)
	}
	e.Ingest(Event{Slot: 5, Kind: "initialize", FreshAssets: assets})
	assert.NotEqual(t, Mask(0), e.ScoreMask("a19"))
	assert.Equal(t, Mask(0), e.ScoreMask("a20"))
}

func TestEngine_SlotAlignedSpan(t *testing.T) {
	e := newTestEngine(nil)
	e.Ingest(Event{Slot: 10, FreshAssets: []string{"near"}})
	e.Ingest(Event{Slot: 12, FreshAssets: []string{"near"}})
	assert.True(t, e.ScoreMask("near").Has(SlotAligned))

	e2 := newTestEngine(nil)
	e2.Ingest(Event{Slot: 10, FreshAssets: []string{"far"}})
	e2.Ingest(Event{Slot: 20, FreshAssets: []string{"far"}})
	// the first bucket latched alignment when it was the only slot
	assert.True(t, e2.ScoreMask("far").Has(SlotAligned))

	e3 := newTestEngine(nil)
	e3.Ingest(Event{Slot: 10, FreshAssets: []string{"other"}})
	e3.Ingest(Event{Slot: 20, FreshAssets: []string{"late"}})
	e3.Ingest(Event{Slot: 25, FreshAssets: []string{"late"}})
	assert.False(t, e3.ScoreMask("late").Has(SlotAligned))
}

func TestEngine_DenseSlotOfOtherAssets(t *testing.T) {
	e := newTestEngine(nil)
	e.Ingest(Event{Slot: 100, FreshAssets: []string{assetX}})
	assert.False(t, e.ScoreMask(assetX).Has(SlotDense))

	for i := 0; i < 3; i++ {
		e.Ingest(Event{Slot: 101, FreshAssets: []string{"neighbour"}})
	}
	m := e.ScoreMask(assetX)
	assert.True(t, m.Has(SlotDense), "mask=%s", m)
	assert.True(t, m.Has(SlotAligned))
}

func TestEngine_CreatorExposed(t *testing.T) {
	e := newTestEngine(nil)
	e.Ingest(Event{
		Slot:        300,
		FreshAssets: []string{assetX},
		Authority:   "creator",
		Tx:          transferTx("creator", assetX, "100"),
	})
	m := e.ScoreMask(assetX)
	assert.True(t, m.Has(CreatorExposed))
	assert.True(t, m.Has(CleanFunding))
}

func TestEngine_FundingFromAnonymousSendersIsNotExposed(t *testing.T) {
	e := newTestEngine(nil)
	e.Ingest(Event{Slot: 300, FreshAssets: []string{assetX}, Authority: "creator", Tx: transferTx("stranger", assetX, "1")})
	assert.False(t, e.ScoreMask(assetX).Has(CreatorExposed))
}

func TestEngine_ATAFunding(t *testing.T) {
	tx := &TransactionDetail{
		Instructions: []Instruction{
			{
				Program: "spl-associated-token-account",
				Type:    "createidempotent",
				Info:    map[string]any{"source": "payer", "account": "holderAtaAcct", "mint": assetX},
				Raw:     `{"program":"spl-associated-token-account","parsed":{"type":"createIdempotent"}}`,
			},
			{
				Program: "spl-token",
				Type:    "transferchecked",
				Info:    map[string]any{"source": "payer", "destination": "holderAtaAcct", "mint": assetX},
				Raw:     `{"program":"spl-token","parsed":{"info":{"mint":"` + assetX + `"}}}`,
			},
		},
	}
	e := newTestEngine(nil)
	e.Ingest(Event{Slot: 77, FreshAssets: []string{assetX}, Tx: tx})
	m := e.ScoreMask(assetX)
	assert.True(t, m.Has(ATACreated))
	assert.True(t, m.Has(CleanFunding))

	noCreate := &TransactionDetail{Instructions: tx.Instructions[1:]}
	e2 := newTestEngine(nil)
	e2.Ingest(Event{Slot: 77, FreshAssets: []string{assetX}, Tx: noCreate})
	assert.False(t, e2.ScoreMask(assetX).Has(ATACreated))
}

func TestEngine_ObserverReceivesFundingMetrics(t *testing.T) {
	var got []FundingMetric
	e := newTestEngine(func(o *Options) {
		o.Observer = func(fm FundingMetric) { got = append(got, fm) }
	})
	e.Ingest(Event{Slot: 8, FreshAssets: []string{assetX}, Authority: "creator", Tx: transferTx("creator", assetX, "2.5")})
	e.Ingest(Event{Slot: 8, FreshAssets: []string{assetX}, Tx: transferTx("other", assetX, "1.5")})

	require.Len(t, got, 2)
	last := got[1]
	assert.Equal(t, assetX, last.Mint)
	assert.Equal(t, uint64(8), last.Slot)
	assert.Equal(t, 2, last.TransferCount)
	assert.Equal(t, 2, last.UniqueSenders)
	assert.Equal(t, 1, last.UniqueRecipients)
	assert.True(t, decimal.NewFromInt(4).Equal(last.AmountSum))
	assert.True(t, last.CleanFundingCandidate)
	assert.True(t, last.CreatorExposedCandidate)
}

func TestEngine_ConcurrentIngest(t *testing.T) {
	e := newTestEngine(func(o *Options) { o.WindowDepth = 8 })
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e.Ingest(Event{Slot: uint64(1000 + i%4), Kind: "initialize", FreshAssets: []string{fmt.Sprintf("w%d", w)}})
				_ = e.ScoreMask(fmt.Sprintf("w%d", w))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 4, e.BucketCount())
	for w := 0; w < 8; w++ {
		assert.True(t, e.ScoreMask(fmt.Sprintf("w%d", w)).Has(SlotDense))
	}
}

func TestMask_String(t *testing.T) {
	assert.Equal(t, "none", Mask(0).String())
	m := AccountCreated | SlotAligned
	assert.Equal(t, "AccountCreated|SlotAligned", m.String())
	assert.Equal(t, 1<<6|1<<13, m.Int())
	assert.False(t, m.Has(0))
	assert.Equal(t, 10, strings.Count(strings.Join((^Mask(0)).Names(), ","), ",")+1)
}

func transferTx(from, to, amount string) *TransactionDetail {
	return &TransactionDetail{
		Instructions: []Instruction{{
			Program: "spl-token",
			Type:    "transfer",
			Info:    map[string]any{"source": from, "destination": to, "amount": amount},
			Raw:     fmt.Sprintf(`{"parsed":{"type":"transfer","info":{"source":%q,"destination":%q}}}`, from, to),
		}},
	}
}
