package version

// List is the ordered chain of versions for one key: strictly increasing
// VersionKey, at most one open (EndTimestamp == +inf) entry (spec §3).
// List itself holds no lock — the owning partition's visitor is the only
// goroutine ever permitted to touch it (spec §4.2), so the chain does not
// need per-entry or per-list synchronization.
type List struct {
	entries []Entry
}

// newList returns an empty (unsentineled) list.
func newList() *List {
	return &List{}
}

// Snapshot returns a copy of the chain in ascending VersionKey order. Safe
// to hand to a caller outside the visitor goroutine since it is a copy.
func (l *List) Snapshot() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ChainLength returns the number of entries in the chain, sentinel head
// included if present.
func (l *List) ChainLength() int {
	return len(l.entries)
}

// head returns the entry with the largest VersionKey (the newest), and
// whether the list is non-empty.
func (l *List) head() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// ensureSentinel installs the empty head if the list has never been
// touched, so newVersionKey = head.VersionKey + 1 is always well-defined.
func (l *List) ensureSentinel(key RecordKey) {
	if len(l.entries) == 0 {
		l.entries = append(l.entries, sentinelEntry(key))
	}
}

// find returns the index of the entry with the given VersionKey, or -1.
func (l *List) find(versionKey int64) int {
	for i, e := range l.entries {
		if e.VersionKey == versionKey {
			return i
		}
	}
	return -1
}

// insert appends entry without checking its VersionKey against the
// others. The strictly-increasing VersionKey order holds only while
// callers insert a VersionKey larger than any already present; the
// visitor's upload logic rejects a VersionKey already in the list, but
// not one smaller than the current head.
func (l *List) insert(e Entry) {
	l.entries = append(l.entries, e)
}

// replaceAt overwrites the entry at index i.
func (l *List) replaceAt(i int, e Entry) {
	l.entries[i] = e
}

// removeAt deletes the entry at index i, used only to roll back an upload
// that the transaction which made it is aborting.
func (l *List) removeAt(i int) {
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
}

// clear empties the list (VersionTable.Clear, test-only per spec §4.2).
func (l *List) clear() {
	l.entries = nil
}
