// Package csvlog writes holder snapshots to timestamped CSV files for
// offline analysis.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/taoliq/incentived/chain"
)

// WriteHolders dumps a holder snapshot to dir/holders_<unix>.csv and
// returns the written path. Rows are sorted by address so consecutive
// snapshots diff cleanly.
func WriteHolders(dir string, hs *chain.HolderSet) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("csvlog: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("holders_%d.csv", hs.BuiltAt.Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("csvlog: create %s: %w", path, err)
	}
	defer f.Close()

	addrs := make([]string, 0, len(hs.Alpha))
	seen := make(map[string]bool, len(hs.Alpha))
	for addr := range hs.Alpha {
		addrs = append(addrs, addr)
		seen[addr] = true
	}
	for addr := range hs.Tao {
		if !seen[addr] {
			addrs = append(addrs, addr)
		}
	}
	sort.Strings(addrs)

	w := csv.NewWriter(f)
	if err := w.Write([]string{"hotkey", "alpha", "tao"}); err != nil {
		return "", fmt.Errorf("csvlog: write header: %w", err)
	}
	for _, addr := range addrs {
		row := []string{
			addr,
			strconv.FormatUint(hs.Alpha[addr], 10),
			strconv.FormatUint(hs.Tao[addr], 10),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("csvlog: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("csvlog: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("csvlog: close %s: %w", path, err)
	}
	return path, nil
}
