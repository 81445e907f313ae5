package directory

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// Directory is the system's service registry: venues, exchanges, dealers and
// takers publish an entry at startup so peers can find their command subject
// without hardcoding it.
type Directory struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]map[string]model.DirectoryEntry // entry type -> name -> entry
}

// New creates an empty directory.
func New(logger *zap.Logger) *Directory {
	return &Directory{
		logger:  logger,
		entries: make(map[string]map[string]model.DirectoryEntry),
	}
}

// Register adds or replaces an entry. Re-registration under the same type
// and name is a restart, not an error; the newest subject wins.
func (d *Directory) Register(entry model.DirectoryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byName, ok := d.entries[entry.EntryType]
	if !ok {
		byName = make(map[string]model.DirectoryEntry)
		d.entries[entry.EntryType] = byName
	}
	byName[entry.Name] = entry
	d.logger.Info("directory.registered",
		zap.String("entry_type", entry.EntryType),
		zap.String("name", entry.Name),
		zap.String("subject", entry.Subject),
	)
}

// Unregister removes an entry, reporting whether it existed.
func (d *Directory) Unregister(entryType, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	byName, ok := d.entries[entryType]
	if !ok {
		return false
	}
	if _, ok := byName[name]; !ok {
		return false
	}
	delete(byName, name)
	d.logger.Info("directory.unregistered",
		zap.String("entry_type", entryType),
		zap.String("name", name),
	)
	return true
}

// Find returns all entries of one type, sorted by name.
func (d *Directory) Find(entryType string) []model.DirectoryEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byName := d.entries[entryType]
	out := make([]model.DirectoryEntry, 0, len(byName))
	for _, entry := range byName {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EntryCount reports the total number of entries across all types.
func (d *Directory) EntryCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, byName := range d.entries {
		n += len(byName)
	}
	return n
}
