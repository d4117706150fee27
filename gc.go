package kvengine

import (
	"encoding/binary"
	"sort"
)

// gcKeySize is the width of a GC subtree key: a transaction id encoded
// big-endian so that byte-lexical key order matches numeric txnid order.
const gcKeySize = 8

// encodeGCKey encodes a txnid as a GC subtree key.
func encodeGCKey(tid txnid) []byte {
	b := make([]byte, gcKeySize)
	binary.BigEndian.PutUint64(b, uint64(tid))
	return b
}

// decodeGCKey decodes a GC subtree key back into a txnid.
func decodeGCKey(b []byte) txnid {
	if len(b) < gcKeySize {
		return 0
	}
	return txnid(binary.BigEndian.Uint64(b))
}

// encodeGCValue packs a page-number list into the GC subtree's value
// representation: an 8-byte count followed by 8-byte little-endian page
// numbers, ascending.
func encodeGCValue(pages []pgno) []byte {
	buf := make([]byte, 8+8*len(pages))
	binary.LittleEndian.PutUint64(buf, uint64(len(pages)))
	for i, pg := range pages {
		binary.LittleEndian.PutUint64(buf[8+8*i:], uint64(pg))
	}
	return buf
}

// decodeGCValue unpacks a GC subtree value into a page-number list.
func decodeGCValue(b []byte) []pgno {
	if len(b) < 8 {
		return nil
	}
	n := binary.LittleEndian.Uint64(b)
	pages := make([]pgno, 0, n)
	for i := uint64(0); i < n && 8+8*(i+1) <= uint64(len(b)); i++ {
		pages = append(pages, pgno(binary.LittleEndian.Uint64(b[8+8*i:])))
	}
	return pages
}

func sortPgnos(pages []pgno) {
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
}

// dedupePgnos collapses adjacent equal entries in an already-sorted page
// list. A page number must never appear twice in a single GC record (PNL
// merge, §4.2, "sorted union with duplicates impossible"); retiring the
// same page twice across GC-update-loop iterations would otherwise produce
// one.
func dedupePgnos(pages []pgno) []pgno {
	if len(pages) < 2 {
		return pages
	}
	out := pages[:1]
	for _, pg := range pages[1:] {
		if pg != out[len(out)-1] {
			out = append(out, pg)
		}
	}
	return out
}

// reclaimFromGC pulls page numbers from the GC subtree into txn.freePages,
// consuming only entries whose key (the retiring transaction's txnid) is
// strictly below the oldest live reader snapshot (invariant 3, §4.6 step 3:
// "a writer may consume only GC entries whose key is < oldest reader").
// Bars recursive re-entry via reclaimingGC, matching the cursor "reclaiming"
// flag in §4.8 that prevents the GC lookup from recursing into itself.
// Returns true if at least one page was pulled.
func (txn *Txn) reclaimFromGC(need int) bool {
	if txn.reclaimingGC || txn.trees[FreeDBI].isEmpty() {
		return false
	}

	oldest := txn.env.lockFile.cachedOldestReader()
	if oldest == 0 || oldest > uint64(txn.txnID) {
		oldest = uint64(txn.txnID)
	}

	txn.reclaimingGC = true
	defer func() { txn.reclaimingGC = false }()

	cur, err := txn.OpenCursor(FreeDBI)
	if err != nil {
		return false
	}

	type gcEntry struct {
		key   []byte
		pages []pgno
	}
	var consumed []gcEntry
	got := 0

	key, val, gerr := cur.Get(nil, nil, First)
	for gerr == nil {
		entryTxnid := decodeGCKey(key)
		if uint64(entryTxnid) >= oldest {
			break
		}
		pages := decodeGCValue(val)
		entry := gcEntry{key: append([]byte(nil), key...), pages: pages}
		consumed = append(consumed, entry)
		got += len(pages)
		if got >= need {
			break
		}
		key, val, gerr = cur.Get(nil, nil, Next)
	}
	cur.Close()

	if len(consumed) == 0 {
		return false
	}

	for _, e := range consumed {
		txn.freePages = append(txn.freePages, e.pages...)
		_ = txn.Del(FreeDBI, e.key, nil)
	}
	if got > 0 {
		txn.pagesReclaimed += got
	}
	return got > 0
}

// gcUpdateLoop persists this commit's retired and leftover free pages into
// the GC subtree keyed by this transaction's txnid, per §4.9's GC-update
// loop: writing the GC record can itself retire or allocate GC pages, so
// the store is repeated until it stabilizes or a fixed iteration cap (12,
// per spec) is hit as a divergence guard.
//
// Every iteration writes the *full* accumulated page list seen so far under
// the one key this transaction owns (encodeGCKey(txn.txnID)): persisting a
// record is itself capable of retiring further pages (the GC subtree splits,
// or the value needs a large-page run), and those newly retired pages must
// be merged into what was already queued rather than replacing it — a
// replace would silently drop the earlier batch from GC tracking forever
// (the corruption scenario property 8 and scenario 4 guard against).
//
// Returns the number of iterations it took to stabilize, for
// Metrics.GCUpdateLoopIterations.
func (txn *Txn) gcUpdateLoop() (int, error) {
	const maxIterations = 12

	if len(txn.retired) == 0 && len(txn.freePages) == 0 {
		return 0, nil
	}

	var accumulated []pgno
	iterations := 0

	for i := 0; i < maxIterations; i++ {
		if len(txn.freePages) == 0 && len(txn.retired) == 0 {
			break
		}
		iterations++

		accumulated = append(accumulated, txn.freePages...)
		accumulated = append(accumulated, txn.retired...)
		txn.freePages = txn.freePages[:0]
		txn.retired = txn.retired[:0]

		sortPgnos(accumulated)
		accumulated = dedupePgnos(accumulated)

		key := encodeGCKey(txn.txnID)
		val := encodeGCValue(accumulated)
		if err := txn.Put(FreeDBI, key, val, 0); err != nil {
			return iterations, err
		}
	}
	return iterations, nil
}
