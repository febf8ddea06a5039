package atom

import "strconv"

// Atom is an interned handle for a string or symbol name. Equal text always
// yields the same handle within one Table, so handle comparison replaces
// string comparison everywhere above this package.
type Atom uint32

// None is the zero Atom; no interned entry ever has it.
const None Atom = 0

// Budget is the memory-accounting hook supplied by the owning runtime.
// Charge is called with a positive delta before the table grows and with a
// negative delta when storage is returned. A non-nil error aborts the growth.
type Budget interface {
	Charge(delta int64) error
}

const (
	initialBuckets = 64
	entryOverhead  = 40 // approximate per-entry bookkeeping cost in bytes
)

type entry struct {
	text     string
	hash     uint32
	next     int32 // bucket chain, -1 terminates
	refCount int32
	index    uint32 // canonical array index value, valid when isIndex
	isIndex  bool
}

// Table interns strings into Atoms. It is owned by a single runtime and is
// not safe for concurrent use.
type Table struct {
	entries  []entry // entries[0] is a sentinel for Atom None
	buckets  []int32
	count    int   // live entries
	freeList int32 // head of freed entry slots, -1 when empty
	budget   Budget
}

// NewTable creates an empty atom table. budget may be nil.
func NewTable(budget Budget) *Table {
	t := &Table{
		entries:  make([]entry, 1, 64),
		buckets:  make([]int32, initialBuckets),
		freeList: -1,
		budget:   budget,
	}
	for i := range t.buckets {
		t.buckets[i] = -1
	}
	return t
}

func hashString(s string) uint32 {
	// Same multiplier family as the shape hash.
	h := uint32(1)
	for i := 0; i < len(s); i++ {
		h = h*263 + uint32(s[i])
	}
	return h
}

// Intern returns the Atom for s, creating it with refcount 1 or bumping the
// refcount of an existing entry. The only possible error is out-of-memory
// from the budget, in which case the table is unchanged.
func (t *Table) Intern(s string) (Atom, error) {
	h := hashString(s)
	b := h & uint32(len(t.buckets)-1)
	for i := t.buckets[b]; i >= 0; i = t.entries[i].next {
		e := &t.entries[i]
		if e.hash == h && e.text == s {
			e.refCount++
			return Atom(i), nil
		}
	}

	// The entry is charged before the bucket array may grow, and a failed
	// growth hands the entry charge back, so an error truly leaves the table
	// unchanged.
	if t.budget != nil {
		if err := t.budget.Charge(int64(len(s) + entryOverhead)); err != nil {
			return None, err
		}
	}
	if t.count+1 > len(t.buckets) {
		if err := t.grow(); err != nil {
			if t.budget != nil {
				t.budget.Charge(-int64(len(s) + entryOverhead))
			}
			return None, err
		}
		b = h & uint32(len(t.buckets)-1)
	}

	arrIdx, isIdx := parseArrayIndex(s)
	var idx int32
	if t.freeList >= 0 {
		idx = t.freeList
		t.freeList = t.entries[idx].next
		t.entries[idx] = entry{}
	} else {
		t.entries = append(t.entries, entry{})
		idx = int32(len(t.entries) - 1)
	}
	t.entries[idx] = entry{
		text:     s,
		hash:     h,
		next:     t.buckets[b],
		refCount: 1,
		index:    arrIdx,
		isIndex:  isIdx,
	}
	t.buckets[b] = idx
	t.count++
	return Atom(idx), nil
}

// InternBytes interns a byte slice; the bytes are copied.
func (t *Table) InternBytes(b []byte) (Atom, error) {
	return t.Intern(string(b))
}

// InternIndex interns the canonical decimal spelling of an array index.
func (t *Table) InternIndex(i uint32) (Atom, error) {
	return t.Intern(strconv.FormatUint(uint64(i), 10))
}

// Text returns the interned text for a. Returns "" for None or a freed atom.
func (t *Table) Text(a Atom) string {
	if !t.valid(a) {
		return ""
	}
	return t.entries[a].text
}

// ArrayIndex reports whether a is a canonical array index atom ("0", "17",
// no leading zeros, < 2^32-1) and, if so, its numeric value.
func (t *Table) ArrayIndex(a Atom) (uint32, bool) {
	if !t.valid(a) {
		return 0, false
	}
	e := &t.entries[a]
	return e.index, e.isIndex
}

// Ref increments a's refcount.
func (t *Table) Ref(a Atom) {
	if t.valid(a) {
		t.entries[a].refCount++
	}
}

// Release decrements a's refcount, freeing the slot at zero.
func (t *Table) Release(a Atom) {
	if !t.valid(a) {
		return
	}
	e := &t.entries[a]
	e.refCount--
	if e.refCount > 0 {
		return
	}
	// Unlink from the bucket chain.
	b := e.hash & uint32(len(t.buckets)-1)
	p := &t.buckets[b]
	for *p != int32(a) {
		p = &t.entries[*p].next
	}
	*p = e.next
	if t.budget != nil {
		t.budget.Charge(-int64(len(e.text) + entryOverhead))
	}
	*e = entry{next: t.freeList, refCount: 0}
	t.freeList = int32(a)
	t.count--
}

// RefCount returns the current refcount of a, 0 if freed.
func (t *Table) RefCount(a Atom) int {
	if !t.valid(a) {
		return 0
	}
	return int(t.entries[a].refCount)
}

// Count returns the number of live atoms.
func (t *Table) Count() int { return t.count }

// Each calls fn for every live atom.
func (t *Table) Each(fn func(a Atom, text string, refCount int)) {
	for i := 1; i < len(t.entries); i++ {
		e := &t.entries[i]
		if e.refCount > 0 {
			fn(Atom(i), e.text, int(e.refCount))
		}
	}
}

func (t *Table) valid(a Atom) bool {
	return a != None && int(a) < len(t.entries) && t.entries[a].refCount > 0
}

func (t *Table) grow() error {
	newSize := len(t.buckets) * 2
	if t.budget != nil {
		if err := t.budget.Charge(int64(newSize * 4)); err != nil {
			return err
		}
		t.budget.Charge(-int64(len(t.buckets) * 4))
	}
	buckets := make([]int32, newSize)
	for i := range buckets {
		buckets[i] = -1
	}
	for i := 1; i < len(t.entries); i++ {
		e := &t.entries[i]
		if e.refCount <= 0 {
			continue
		}
		b := e.hash & uint32(newSize-1)
		e.next = buckets[b]
		buckets[b] = int32(i)
	}
	// Freed slots lost their chain links above; rebuild the free list.
	t.freeList = -1
	for i := len(t.entries) - 1; i >= 1; i-- {
		if t.entries[i].refCount <= 0 {
			t.entries[i].next = t.freeList
			t.freeList = int32(i)
		}
	}
	t.buckets = buckets
	return nil
}

// parseArrayIndex reports whether s is a canonical array index spelling.
// Leading zeros disqualify (except "0" itself); the maximum index is 2^32-2.
func parseArrayIndex(s string) (uint32, bool) {
	if s == "" || len(s) > 10 {
		return 0, false
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	if n > 4294967294 {
		return 0, false
	}
	return uint32(n), true
}
