package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_AlternateNames(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		slot      uint64
		kind      string
		assets    []string
		logs      []string
		authority string
	}{
		{
			name:      "collector shape",
			payload:   `{"slot":123,"kind":"initialize","freshMints":["A","B"],"sampleLogs":["l1","l2"],"user":"U"}`,
			slot:      123,
			kind:      "initialize",
			assets:    []string{"A", "B"},
			logs:      []string{"l1", "l2"},
			authority: "U",
		},
		{
			name:      "joined log text and nested kind",
			payload:   `{"orderingUnit":"77","event":{"kind":"pool"},"freshAssets":["A"],"sampleLogText":"x\ny","signature":"sig"}`,
			slot:      77,
			kind:      "pool",
			assets:    []string{"A"},
			logs:      []string{"x", "y"},
			authority: "sig",
		},
		{
			name:      "authority from candidate token",
			payload:   `{"firstBlock":5,"freshMints":["A"],"candidateTokens":[{"mintAuthority":"MA"}],"unknown":{"deep":true}}`,
			slot:      5,
			assets:    []string{"A"},
			authority: "MA",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := DecodeEvent([]byte(tt.payload))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.slot, ev.Slot)
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.assets, ev.FreshAssets)
			assert.Equal(t, tt.logs, ev.Logs)
			assert.Equal(t, tt.authority, ev.Authority)
		})
	}
}

func TestDecodeEvent_TransactionDetail(t *testing.T) {
	payload := `{
	  "slot": 9,
	  "freshMints": ["M"],
	  "solletCreated": true,
	  "transaction": {
	    "message": {
	      "accountKeys": [{"pubkey":"k0"}, "k1"],
	      "instructions": [
	        {"program":"spl-token","parsed":{"type":"Transfer","info":{"source":"a","destination":"b","amount":"5"}}},
	        {"programId":"prog","data":"abc"}
	      ]
	    }
	  },
	  "meta": {
	    "innerInstructions": [{"index":0,"instructions":[{"parsed":{"type":"create","info":{}}}]}],
	    "preTokenBalances": [{"accountIndex":1,"mint":"M","owner":"o","uiTokenAmount":{"amount":"1"}}],
	    "postTokenBalances": [{"accountIndex":1,"mint":"M","owner":"o","uiTokenAmount":{"amount":"3"}}]
	  }
	}`
	ev, ok, err := DecodeEvent([]byte(payload))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ev.AltMintCreated)
	require.NotNil(t, ev.Tx)
	assert.Equal(t, []string{"k0", "k1"}, ev.Tx.AccountKeys)
	require.Len(t, ev.Tx.Instructions, 2)
	assert.Equal(t, "transfer", ev.Tx.Instructions[0].Type)
	assert.Equal(t, "a", ev.Tx.Instructions[0].Info["source"])
	assert.Equal(t, "prog", ev.Tx.Instructions[1].Program)
	assert.Contains(t, ev.Tx.Instructions[1].Raw, `"data":"abc"`)
	require.Len(t, ev.Tx.InnerInstructions, 1)
	assert.Equal(t, "create", ev.Tx.InnerInstructions[0][0].Type)
	require.Len(t, ev.Tx.PostTokenBalances, 1)
	assert.Equal(t, 1, ev.Tx.PostTokenBalances[0].AccountIndex)
	assert.Equal(t, "3", ev.Tx.PostTokenBalances[0].Amount.Decimal.String())
}

func TestDecodeEvent_NoSlot(t *testing.T) {
	for _, p := range []string{`{}`, `{"slot":null}`, `{"slot":"abc"}`, `{"slot":0}`} {
		_, ok, err := DecodeEvent([]byte(p))
		assert.NoError(t, err, p)
		assert.False(t, ok, p)
	}
}
