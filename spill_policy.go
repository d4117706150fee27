package kvengine

import "github.com/kvstorelabs/kvengine/spill"

// bumpTick records this transaction's logical clock against a page that
// was just dirtied or rewritten. maybeSpill consults these ticks to pick
// the least-recently-touched dirty page when the transaction must spill.
func (txn *Txn) bumpTick(pn pgno) {
	txn.lruTick++
	if txn.pageTick == nil {
		txn.pageTick = make(map[pgno]uint32, 64)
	}
	txn.pageTick[pn] = txn.lruTick
}

// maybeSpill moves the least-recently-touched dirty page into the
// environment's spill buffer once the transaction's dirty set exceeds
// env.maxDirtyPages (§6.4). A no-op when the environment has no spill
// buffer or SetMaxDirtyPages has not set a non-zero budget. Pages currently held on a cursor's
// traversal stack are never chosen, since swapping their backing array
// out from under an active cursor would corrupt its view of the page.
func (txn *Txn) maybeSpill() {
	env := txn.env
	if env == nil || env.spillBuf == nil || env.maxDirtyPages == 0 {
		return
	}
	if txn.dirtyTracker.len() <= int(env.maxDirtyPages) {
		return
	}

	var (
		victim     pgno
		victimPage *page
		victimTick uint32
		found      bool
	)
	txn.dirtyTracker.forEach(func(pn pgno, p *page) {
		if _, already := txn.spilled[pn]; already {
			return
		}
		if txn.isPinnedByCursor(pn) {
			return
		}
		tick := txn.pageTick[pn]
		if !found || tick < victimTick {
			victim, victimPage, victimTick, found = pn, p, tick, true
		}
	})
	if !found {
		return
	}

	dst, slot, err := env.spillBuf.Allocate()
	if err != nil {
		// Buffer exhausted; leave the page heap-resident rather than fail
		// the write. A future maybeSpill call may succeed once segments
		// free up.
		return
	}
	copy(dst, victimPage.Data)
	victimPage.Data = dst

	if txn.spilled == nil {
		txn.spilled = make(map[pgno]*spill.Slot, 8)
	}
	txn.spilled[victim] = slot
}

// isPinnedByCursor reports whether any of the transaction's open cursors
// currently has the given page on its traversal stack.
func (txn *Txn) isPinnedByCursor(pn pgno) bool {
	for _, c := range txn.cursors {
		for i := int8(0); i <= c.top; i++ {
			if c.pgnoCache[i] == pn {
				return true
			}
		}
		if c.subcur != nil {
			for i := int8(0); i <= c.subcur.top; i++ {
				if c.subcur.pgnoCache[i] == pn {
					return true
				}
			}
		}
	}
	return false
}

// releaseSpilled returns every slot this transaction allocated from the
// spill buffer back to the pool. Called on both commit and abort, after
// dirty pages (including spilled ones) have been written out or discarded.
func (txn *Txn) releaseSpilled() {
	if len(txn.spilled) == 0 {
		return
	}
	env := txn.env
	if env != nil && env.spillBuf != nil {
		for _, slot := range txn.spilled {
			env.spillBuf.Release(slot)
		}
	}
	clear(txn.spilled)
}
