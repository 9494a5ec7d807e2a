// Command evaluate sweeps gate thresholds over recorded verdicts and prints
// how many assets each threshold would have accepted.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/your-org/ledger-sniper-bot/internal/gate"
	"github.com/your-org/ledger-sniper-bot/pkg/logger"
)

var errNoEntries = errors.New("no usable entries found")

func main() {
	// --- Flags ---
	defaults := gate.DefaultWeights()
	maskWeight := flag.Float64("mask-weight", defaults.Mask, "Weight of each set mask bit")
	strongWeight := flag.Float64("strong-weight", defaults.Strong, "Weight of a strong signal")
	auxWeight := flag.Float64("aux-weight", defaults.Aux, "Weight of the auxiliary flag")
	asJSON := flag.Bool("json", false, "Print the report as JSON instead of a table")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	l := logger.NewLogger(*logLevel)
	if flag.NArg() == 0 {
		l.Fatal("Usage: evaluate [flags] <file or directory>...")
	}

	entries, err := loadPaths(flag.Args(), l)
	if err != nil {
		l.Fatalf("Failed to load entries: %v", err)
	}

	w := gate.Weights{Mask: *maskWeight, Strong: *strongWeight, Aux: *auxWeight}
	rep := gate.Sweep(entries, w)
	if *asJSON {
		err = writeJSON(os.Stdout, rep)
	} else {
		err = writeTable(os.Stdout, rep)
	}
	if err != nil {
		l.Fatalf("Failed to write report: %v", err)
	}
}

// loadPaths reads every .json file named directly or found in a named
// directory. Unreadable files are skipped with a warning.
func loadPaths(paths []string, l logger.Logger) ([]gate.Entry, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}

	var entries []gate.Entry
	for _, f := range files {
		fh, err := os.Open(f)
		if err != nil {
			l.Warnf("Skipping %s: %v", f, err)
			continue
		}
		got, err := parseEntries(fh)
		fh.Close()
		if err != nil {
			l.Warnf("Skipping %s: %v", f, err)
			continue
		}
		l.Debugf("Loaded %d entries from %s", len(got), f)
		entries = append(entries, got...)
	}
	if len(entries) == 0 {
		return nil, errNoEntries
	}
	return entries, nil
}

// record is one saved verdict. Mask is the raw bitmask and wins over
// MaskBits when present.
type record struct {
	Mint     string `json:"mint"`
	Mask     *int   `json:"mask"`
	MaskBits int    `json:"maskBits"`
	Strong   bool   `json:"strong"`
	Aux      bool   `json:"aux"`
}

func (r record) entry() gate.Entry {
	n := r.MaskBits
	if r.Mask != nil {
		n = bits.OnesCount32(uint32(*r.Mask))
	}
	return gate.Entry{Mint: r.Mint, MaskBits: n, Strong: r.Strong, Aux: r.Aux}
}

// parseEntries accepts a single record, an array of records, or a batch
// object {"results": [...]}.
func parseEntries(r io.Reader) ([]gate.Entry, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))

	var records []record
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var batch struct {
			Results []record `json:"results"`
		}
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		if batch.Results != nil {
			records = batch.Results
			break
		}
		var one record
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		records = []record{one}
	default:
		return nil, fmt.Errorf("unexpected JSON value")
	}

	entries := make([]gate.Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, rec.entry())
	}
	return entries, nil
}

func writeJSON(w io.Writer, rep gate.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func writeTable(w io.Writer, rep gate.Report) error {
	fmt.Fprintf(w, "weights mask=%g strong=%g aux=%g entries=%d max_score=%g\n\n",
		rep.Weights.Mask, rep.Weights.Strong, rep.Weights.Aux, rep.Entries, rep.MaxScore)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "threshold\taccepted\taux\tstrong\tavg_bits\tprec_aux\tprec_strong\t")
	for _, st := range rep.Stats {
		fmt.Fprintf(tw, "%g\t%d\t%d\t%d\t%.2f\t%.2f\t%.2f\t\n",
			st.Threshold, st.AcceptedCount, st.AcceptedAux, st.AcceptedStrong, st.AvgMaskBits, st.PrecisionAux, st.PrecisionStrong)
	}
	return tw.Flush()
}
