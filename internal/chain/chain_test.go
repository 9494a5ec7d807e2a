package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNode struct {
	blockhash solana.Hash
	simErr    any
	sendErr   error
	sent      []*solana.Transaction
	confirmed []solana.Signature
}

func (f *fakeNode) LatestBlockhash(context.Context) (solana.Hash, error) { return f.blockhash, nil }

func (f *fakeNode) Simulate(_ context.Context, _ *solana.Transaction) (*SimulationResult, error) {
	return &SimulationResult{Err: f.simErr, Logs: []string{"log"}}, nil
}

func (f *fakeNode) Send(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeNode) Confirm(_ context.Context, sig solana.Signature) error {
	f.confirmed = append(f.confirmed, sig)
	return nil
}

func (f *fakeNode) SOLBalance(context.Context, solana.PublicKey) (uint64, error) { return 0, nil }

func (f *fakeNode) TokenBalance(context.Context, solana.PublicKey, solana.PublicKey) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeNode) RentExemption(context.Context, uint64) (uint64, error) { return 0, nil }

func newTestTx(t *testing.T, payer solana.PublicKey, bh solana.Hash) *solana.Transaction {
	t.Helper()
	tx, err := TransferTx(payer, solana.NewWallet().PublicKey(), 1000, bh)
	require.NoError(t, err)
	return tx
}

func verify(t *testing.T, tx *solana.Transaction, pub solana.PublicKey) {
	t.Helper()
	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	require.NotEmpty(t, tx.Signatures)
	assert.True(t, tx.Signatures[0].Verify(pub, msg), "signature must cover the current message")
}

func TestParseSigner(t *testing.T) {
	w := solana.NewWallet()

	s, err := ParseSigner(w.PrivateKey.String())
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), s.PublicKey())

	arr, err := json.Marshal(toInts(w.PrivateKey))
	require.NoError(t, err)
	s, err = ParseSigner(string(arr))
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), s.PublicKey())

	for _, bad := range []string{"", "not-base58-0OIl", "[1,2,3]", "[999]"} {
		_, err := ParseSigner(bad)
		assert.ErrorIs(t, err, ErrInvalidSigner, bad)
	}
}

func toInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func TestSigner_Sign(t *testing.T) {
	w := solana.NewWallet()
	s := NewSigner(w.PrivateKey)
	tx := newTestTx(t, w.PublicKey(), solana.Hash{1})

	require.NoError(t, s.Sign(tx))
	require.Len(t, tx.Signatures, 1)
	verify(t, tx, w.PublicKey())

	stranger := NewSigner(solana.NewWallet().PrivateKey)
	assert.ErrorIs(t, stranger.Sign(tx), ErrInvalidSigner)
}

func TestEncodeDecodeTransaction(t *testing.T) {
	w := solana.NewWallet()
	tx := newTestTx(t, w.PublicKey(), solana.Hash{7})
	require.NoError(t, NewSigner(w.PrivateKey).Sign(tx))

	b64, err := EncodeTransaction(tx)
	require.NoError(t, err)
	back, err := DecodeTransaction(b64)
	require.NoError(t, err)
	assert.Equal(t, tx.Message.RecentBlockhash, back.Message.RecentBlockhash)
	assert.Equal(t, tx.Signatures, back.Signatures)

	_, err = DecodeTransaction("%%%")
	assert.Error(t, err)
}

func TestSubmitter_SimulationFailureAborts(t *testing.T) {
	w := solana.NewWallet()
	node := &fakeNode{blockhash: solana.Hash{1}, simErr: map[string]any{"InstructionError": []any{0, "Custom"}}}
	sub := NewSubmitter(node, zap.NewNop())

	_, err := sub.Submit(context.Background(), newTestTx(t, w.PublicKey(), solana.Hash{1}), NewSigner(w.PrivateKey), SubmitOptions{})
	require.ErrorIs(t, err, ErrSimulation)
	var simErr *SimulationError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, []string{"log"}, simErr.Logs)
	assert.Empty(t, node.sent)
}

func TestSubmitter_ForceSend(t *testing.T) {
	w := solana.NewWallet()
	node := &fakeNode{blockhash: solana.Hash{1}, simErr: "boom"}
	sub := NewSubmitter(node, zap.NewNop())

	sig, err := sub.Submit(context.Background(), newTestTx(t, w.PublicKey(), solana.Hash{1}), NewSigner(w.PrivateKey), SubmitOptions{ForceSend: true})
	require.NoError(t, err)
	require.Len(t, node.sent, 1)
	assert.Equal(t, []solana.Signature{sig}, node.confirmed)
}

func TestSubmitter_RefreshesBlockhashAndResigns(t *testing.T) {
	w := solana.NewWallet()
	node := &fakeNode{blockhash: solana.Hash{9}}
	sub := NewSubmitter(node, zap.NewNop())
	tx := newTestTx(t, w.PublicKey(), solana.Hash{1})

	_, err := sub.Submit(context.Background(), tx, NewSigner(w.PrivateKey), SubmitOptions{})
	require.NoError(t, err)
	require.Len(t, node.sent, 1)
	assert.Equal(t, solana.Hash{9}, node.sent[0].Message.RecentBlockhash)
	verify(t, node.sent[0], w.PublicKey())
}

func TestSubmitter_SendErrorSurfaces(t *testing.T) {
	w := solana.NewWallet()
	node := &fakeNode{blockhash: solana.Hash{1}, sendErr: errors.New("node down")}
	sub := NewSubmitter(node, zap.NewNop())
	_, err := sub.Submit(context.Background(), newTestTx(t, w.PublicKey(), solana.Hash{1}), NewSigner(w.PrivateKey), SubmitOptions{})
	assert.EqualError(t, err, "node down")
	assert.Empty(t, node.confirmed)
}

func TestSubmitter_Transfer(t *testing.T) {
	w := solana.NewWallet()
	node := &fakeNode{blockhash: solana.Hash{3}}
	sub := NewSubmitter(node, zap.NewNop())
	_, err := sub.Transfer(context.Background(), NewSigner(w.PrivateKey), solana.NewWallet().PublicKey(), 5000)
	require.NoError(t, err)
	require.Len(t, node.sent, 1)
	verify(t, node.sent[0], w.PublicKey())
}

// rpcServer answers a handful of JSON-RPC methods with canned results.
func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, ok := results[req.Method]
		if !ok {
			http.Error(w, "unexpected method "+req.Method, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, res)
	}))
}

func TestClient_JSONRPC(t *testing.T) {
	bh := solana.Hash{4, 2}
	srv := rpcServer(t, map[string]string{
		"getBalance":                        `{"context":{"slot":1},"value":2500000000}`,
		"getLatestBlockhash":                fmt.Sprintf(`{"context":{"slot":1},"value":{"blockhash":%q,"lastValidBlockHeight":10}}`, bh.String()),
		"getMinimumBalanceForRentExemption": `2039280`,
	})
	defer srv.Close()

	c := NewClient(srv.URL, "confirmed", zap.NewNop())
	ctx := context.Background()

	bal, err := c.SOLBalance(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(2500000000), bal)

	got, err := c.LatestBlockhash(ctx)
	require.NoError(t, err)
	assert.Equal(t, bh, got)

	rent, err := c.RentExemption(ctx, TokenAccountSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(2039280), rent)
}
