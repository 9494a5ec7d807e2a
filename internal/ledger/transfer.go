package ledger

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// TransferRecord is a value movement derived from one event. Records are
// appended to the slot bucket and never mutated.
type TransferRecord struct {
	From          string
	To            string
	Amount        decimal.NullDecimal
	ProgramOrType string
	Raw           string
}

const balanceDiffProgram = "balance-diff"

var (
	addressRe = regexp.MustCompile(`^[A-Za-z0-9]{32,44}$`)
	numberRe  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// ExtractTransfers derives transfer records from an event. Tiers are tried
// in order and the first that yields anything wins: parsed top-level
// instructions, inner instructions, token balance diffs, log lines.
func ExtractTransfers(ev Event) []TransferRecord {
	if tx := ev.Tx; tx != nil {
		if out := fromInstructions(tx.Instructions, true); len(out) > 0 {
			return out
		}
		var inner []TransferRecord
		for _, block := range tx.InnerInstructions {
			inner = append(inner, fromInstructions(block, false)...)
		}
		if len(inner) > 0 {
			return inner
		}
		if out := fromBalanceDiffs(tx); len(out) > 0 {
			return out
		}
	}
	return fromLogs(ev.Logs)
}

// fromInstructions emits at most one record per instruction. Top-level
// instructions also report approve/close/mint and unparsed raw calls.
func fromInstructions(ins []Instruction, topLevel bool) []TransferRecord {
	var out []TransferRecord
	for _, in := range ins {
		if rec, ok := classifyInstruction(in, topLevel); ok {
			out = append(out, rec)
		}
	}
	return out
}

func classifyInstruction(in Instruction, topLevel bool) (TransferRecord, bool) {
	typ := in.Type
	switch {
	case strings.Contains(typ, "transfer"):
		amt := parseAmount(in.Info["amount"])
		if !amt.Valid {
			if ta, ok := in.Info["tokenAmount"].(map[string]any); ok {
				amt = parseAmount(ta["amount"])
			}
		}
		if !amt.Valid {
			amt = parseAmount(in.Info["uiAmount"])
		}
		if !amt.Valid {
			amt = parseAmount(in.Info["lamports"])
		}
		return TransferRecord{
			From:          firstString(in.Info, "source", "from", "authority", "owner"),
			To:            firstString(in.Info, "destination", "to", "account"),
			Amount:        amt,
			ProgramOrType: typ,
			Raw:           in.Raw,
		}, true
	case strings.Contains(typ, "create") || strings.Contains(typ, "initialize"):
		return TransferRecord{
			From:          firstString(in.Info, "source", "payer", "authority"),
			To:            firstString(in.Info, "account", "newAccount", "destination"),
			ProgramOrType: typ,
			Raw:           in.Raw,
		}, true
	case !topLevel:
		return TransferRecord{}, false
	case strings.Contains(typ, "approve") || strings.Contains(typ, "close") || strings.Contains(typ, "mint"):
		return TransferRecord{
			From:          firstString(in.Info, "source", "owner", "authority", "mintAuthority"),
			To:            firstString(in.Info, "delegate", "destination", "account"),
			Amount:        parseAmount(in.Info["amount"]),
			ProgramOrType: typ,
			Raw:           in.Raw,
		}, true
	case typ == "" && in.Data != "" && in.Program != "":
		return TransferRecord{ProgramOrType: "raw", Raw: in.Raw}, true
	}
	return TransferRecord{}, false
}

// fromBalanceDiffs pairs every token account that gained with the first
// account of the same mint that lost. An account missing from the post
// balances was closed and lost its whole pre balance.
func fromBalanceDiffs(tx *TransactionDetail) []TransferRecord {
	if len(tx.PostTokenBalances) == 0 {
		return nil
	}
	type key struct {
		idx  int
		acct string
		mint string
	}
	keyOf := func(b TokenBalance) key {
		if b.AccountIndex >= 0 {
			return key{idx: b.AccountIndex, mint: b.Mint}
		}
		return key{idx: -1, acct: b.Account, mint: b.Mint}
	}
	pre := make(map[key]decimal.Decimal, len(tx.PreTokenBalances))
	for _, b := range tx.PreTokenBalances {
		if b.Amount.Valid {
			pre[keyOf(b)] = b.Amount.Decimal
		}
	}

	type delta struct {
		b    TokenBalance
		diff decimal.Decimal
	}
	var deltas []delta
	post := make(map[key]struct{}, len(tx.PostTokenBalances))
	for _, b := range tx.PostTokenBalances {
		if !b.Amount.Valid {
			continue
		}
		post[keyOf(b)] = struct{}{}
		d := b.Amount.Decimal.Sub(pre[keyOf(b)])
		if !d.IsZero() {
			deltas = append(deltas, delta{b: b, diff: d})
		}
	}
	for _, b := range tx.PreTokenBalances {
		if _, ok := post[keyOf(b)]; ok || !b.Amount.Valid || b.Amount.Decimal.IsZero() {
			continue
		}
		deltas = append(deltas, delta{b: b, diff: b.Amount.Decimal.Neg()})
	}

	var out []TransferRecord
	for _, in := range deltas {
		if !in.diff.IsPositive() {
			continue
		}
		rec := TransferRecord{
			To:            holderOf(in.b, tx.AccountKeys),
			Amount:        decimal.NewNullDecimal(in.diff),
			ProgramOrType: balanceDiffProgram,
			Raw:           "balance_diff:" + in.b.Mint,
		}
		for _, src := range deltas {
			if src.b.Mint == in.b.Mint && src.diff.IsNegative() {
				rec.From = holderOf(src.b, tx.AccountKeys)
				break
			}
		}
		out = append(out, rec)
	}
	return out
}

func holderOf(b TokenBalance, keys []string) string {
	if b.Owner != "" {
		return b.Owner
	}
	if b.Account != "" {
		return b.Account
	}
	if b.AccountIndex >= 0 && b.AccountIndex < len(keys) {
		return keys[b.AccountIndex]
	}
	return ""
}

// fromLogs scans lines mentioning a transfer. Address-shaped tokens fill
// from then to; the first numeric token is the amount. Tokens keep their
// original case so they still match the asset ids they name.
func fromLogs(logs []string) []TransferRecord {
	var out []TransferRecord
	for _, line := range logs {
		if !strings.Contains(strings.ToLower(line), "transfer") {
			continue
		}
		rec := TransferRecord{ProgramOrType: "log", Raw: line}
		for _, tok := range strings.FieldsFunc(line, isLogSeparator) {
			switch {
			case numberRe.MatchString(tok) && !rec.Amount.Valid && len(tok) < 32:
				rec.Amount = parseAmount(tok)
			case addressRe.MatchString(tok):
				if rec.From == "" {
					rec.From = tok
				} else if rec.To == "" {
					rec.To = tok
				}
			}
		}
		out = append(out, rec)
	}
	return out
}

func isLogSeparator(r rune) bool {
	switch r {
	case ' ', '\t', ',', ':', ';', '(', ')', '[', ']', '{', '}', '"', '\'', '=':
		return true
	}
	return false
}
