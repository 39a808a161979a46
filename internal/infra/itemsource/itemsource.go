// Package itemsource implements the item enumerator consumed when a fresh
// run starts. The enumerated list is frozen into the run record, so these
// sources are only consulted from the Idle state.
package itemsource

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
)

var (
	_ domain.ItemEnumerator = (*StaticEnumerator)(nil)
	_ domain.ItemEnumerator = (*FileEnumerator)(nil)
)

// StaticEnumerator serves a fixed list of account addresses from
// configuration.
type StaticEnumerator struct {
	addresses []string
}

// NewStaticEnumerator creates an enumerator over the given addresses.
func NewStaticEnumerator(addresses []string) *StaticEnumerator {
	return &StaticEnumerator{addresses: addresses}
}

// EnumerateItems returns the configured addresses as work items.
func (e *StaticEnumerator) EnumerateItems(ctx context.Context) ([]domain.WorkItem, error) {
	items := make([]domain.WorkItem, 0, len(e.addresses))
	for _, addr := range e.addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		items = append(items, domain.WorkItem(addr))
	}
	return items, nil
}

// FileEnumerator reads one account address per line from a file. Blank
// lines and lines starting with '#' are skipped.
type FileEnumerator struct {
	path string
}

// NewFileEnumerator creates an enumerator over the given file path.
func NewFileEnumerator(path string) *FileEnumerator {
	return &FileEnumerator{path: path}
}

// EnumerateItems reads the full address list from the file.
func (e *FileEnumerator) EnumerateItems(ctx context.Context) ([]domain.WorkItem, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open item list: %w", err)
	}
	defer f.Close()

	var items []domain.WorkItem
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, domain.WorkItem(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read item list: %w", err)
	}
	return items, nil
}
