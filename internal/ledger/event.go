package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Event is the canonical record the engine ingests. Collectors emit several
// shapes for the same concepts; DecodeEvent folds them into this one.
type Event struct {
	Slot           uint64
	Kind           string
	FreshAssets    []string
	Logs           []string
	Authority      string
	AltMintCreated bool
	Tx             *TransactionDetail
}

// TransactionDetail is the subset of a parsed transaction the engine reads.
type TransactionDetail struct {
	AccountKeys       []string
	Instructions      []Instruction
	InnerInstructions [][]Instruction
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Instruction is a parsed (or raw) instruction.
type Instruction struct {
	Program string
	Type    string // parsed.type, lowercased
	Info    map[string]any
	Data    string
	Raw     string // compact JSON of the original object
}

// TokenBalance is one entry of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex int // -1 when absent
	Account      string
	Owner        string
	Mint         string
	Amount       decimal.NullDecimal
}

// DecodeEvent parses a collector payload. ok is false when the payload has
// no ordering unit; such events are dropped without error. Unknown fields are
// ignored.
func DecodeEvent(data []byte) (ev Event, ok bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Event{}, false, fmt.Errorf("decode event: %w", err)
	}
	ev, ok = NormalizeEvent(raw)
	return ev, ok, nil
}

// NormalizeEvent maps a loosely typed payload onto Event.
func NormalizeEvent(raw map[string]any) (Event, bool) {
	var ev Event
	slot, ok := firstUint(raw, "slot", "orderingUnit", "blockSlot", "firstBlock", "txBlock")
	if !ok || slot == 0 {
		return Event{}, false
	}
	ev.Slot = slot

	ev.Kind = firstString(raw, "kind")
	if ev.Kind == "" {
		if inner, ok := raw["event"].(map[string]any); ok {
			ev.Kind = firstString(inner, "kind")
		}
	}

	for _, key := range []string{"freshMints", "freshAssets"} {
		if arr, ok := raw[key].([]any); ok {
			for _, v := range arr {
				if s := stringify(v); s != "" {
					ev.FreshAssets = append(ev.FreshAssets, s)
				}
			}
			break
		}
	}

	for _, key := range []string{"sampleLogs", "sampleLogText", "logs"} {
		switch v := raw[key].(type) {
		case string:
			ev.Logs = strings.Split(v, "\n")
		case []any:
			for _, l := range v {
				ev.Logs = append(ev.Logs, stringify(l))
			}
		default:
			continue
		}
		break
	}

	ev.Authority = firstString(raw, "user", "authorityHint", "signature", "sourceSignature")
	if ev.Authority == "" {
		if cands, ok := raw["candidateTokens"].([]any); ok && len(cands) > 0 {
			if c, ok := cands[0].(map[string]any); ok {
				ev.Authority = firstString(c, "mintAuthority", "authority")
			}
		}
	}

	ev.AltMintCreated = truthy(raw["solletCreated"]) || truthy(raw["altMintCreated"])
	ev.Tx = normalizeTx(raw)
	return ev, true
}

func normalizeTx(raw map[string]any) *TransactionDetail {
	var tx map[string]any
	for _, key := range []string{"transaction", "tx", "parsedTransaction", "transactionDetail"} {
		if m, ok := raw[key].(map[string]any); ok {
			tx = m
			break
		}
	}
	meta, _ := raw["meta"].(map[string]any)
	if meta == nil && tx != nil {
		meta, _ = tx["meta"].(map[string]any)
	}
	if tx == nil && meta == nil {
		return nil
	}

	out := &TransactionDetail{}
	if tx != nil {
		if msg, ok := tx["message"].(map[string]any); ok {
			if keys, ok := msg["accountKeys"].([]any); ok {
				for _, k := range keys {
					switch kv := k.(type) {
					case map[string]any:
						out.AccountKeys = append(out.AccountKeys, firstString(kv, "pubkey"))
					default:
						out.AccountKeys = append(out.AccountKeys, stringify(kv))
					}
				}
			}
			if ins, ok := msg["instructions"].([]any); ok {
				out.Instructions = normalizeInstructions(ins)
			}
		}
	}
	if meta != nil {
		if inner, ok := meta["innerInstructions"].([]any); ok {
			for _, block := range inner {
				b, ok := block.(map[string]any)
				if !ok {
					continue
				}
				if ins, ok := b["instructions"].([]any); ok {
					out.InnerInstructions = append(out.InnerInstructions, normalizeInstructions(ins))
				}
			}
		}
		out.PreTokenBalances = normalizeBalances(meta["preTokenBalances"])
		out.PostTokenBalances = normalizeBalances(meta["postTokenBalances"])
	}
	return out
}

func normalizeInstructions(arr []any) []Instruction {
	out := make([]Instruction, 0, len(arr))
	for _, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		raw, _ := json.Marshal(m)
		ins := Instruction{
			Program: firstString(m, "program", "programId"),
			Data:    firstString(m, "data"),
			Raw:     string(raw),
		}
		if parsed, ok := m["parsed"].(map[string]any); ok {
			ins.Type = strings.ToLower(firstString(parsed, "type"))
			ins.Info, _ = parsed["info"].(map[string]any)
		}
		out = append(out, ins)
	}
	return out
}

func normalizeBalances(v any) []TokenBalance {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]TokenBalance, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		tb := TokenBalance{AccountIndex: -1}
		if idx, ok := firstUint(m, "accountIndex"); ok {
			tb.AccountIndex = int(idx)
		}
		tb.Account = firstString(m, "account")
		tb.Owner = firstString(m, "owner")
		tb.Mint = firstString(m, "mint")
		switch ui := m["uiTokenAmount"].(type) {
		case map[string]any:
			tb.Amount = parseAmount(ui["amount"])
		case string, json.Number:
			tb.Amount = parseAmount(ui)
		default:
			tb.Amount = parseAmount(m["amount"])
		}
		out = append(out, tb)
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringify(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstUint(m map[string]any, keys ...string) (uint64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if n, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
				return n, true
			}
			if f, err := v.Float64(); err == nil && f >= 0 {
				return uint64(f), true
			}
		case float64:
			if v >= 0 {
				return uint64(v), true
			}
		case string:
			if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	case json.Number:
		return b.String() != "0"
	}
	return false
}

func parseAmount(v any) decimal.NullDecimal {
	s := stringify(v)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
