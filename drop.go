package kvengine

// dropTree retires every page owned by the given subtree: leaf, branch,
// large-value overflow runs, and any nested DUPSORT subtrees reachable
// from SUBDATA/DUPDATA leaf nodes. Mirrors the retirement path an
// ordinary delete takes (§4.7 "retiring such a node retires the whole
// run"), so a dropped subtree's pages become reclaimable through the
// same GC mechanism rather than being silently forgotten.
func (txn *Txn) dropTree(t *tree) error {
	if t == nil || t.isEmpty() {
		return nil
	}
	return txn.retirePageSubtree(t.Root)
}

// retirePageSubtree walks a page and its descendants (branch children,
// large-value overflow runs, nested dup subtrees) and appends every page
// number encountered to the transaction's retired list.
func (txn *Txn) retirePageSubtree(root pgno) error {
	if root == invalidPgno {
		return nil
	}

	p, err := txn.getPage(root)
	if err != nil {
		return err
	}

	switch {
	case p.isBranch():
		n := p.numEntries()
		for i := 0; i < n; i++ {
			child := nodeGetChildPgnoDirect(p, i)
			if err := txn.retirePageSubtree(child); err != nil {
				return err
			}
		}
	case p.isLeaf():
		n := p.numEntries()
		for i := 0; i < n; i++ {
			flags := nodeGetFlagsDirect(p, i)
			switch {
			case flags&nodeBig != 0:
				overflowPgno := nodeGetOverflowPgnoDirect(p, i)
				if overflowPgno != invalidPgno {
					if err := txn.retireLargeRun(overflowPgno); err != nil {
						return err
					}
				}
			case flags&nodeTree != 0:
				data := nodeGetDataDirect(p, i)
				if sub := parseTreeFromBytes(data); sub != nil {
					if err := txn.retirePageSubtree(sub.Root); err != nil {
						return err
					}
				}
			}
			// nodeDup sub-pages live inline in the leaf's own node data
			// and need no separate retirement — they vanish with the leaf.
		}
	case p.isLarge():
		return txn.retireLargeRun(root)
	}

	txn.retireOwnedPage(root, p)
	return nil
}

// retireLargeRun retires every page in a large-value overflow run.
func (txn *Txn) retireLargeRun(firstPgno pgno) error {
	p, err := txn.getPage(firstPgno)
	if err != nil {
		return err
	}
	n := 1 + int(p.overflowPages())
	for i := 0; i < n; i++ {
		txn.retireOwnedPage(firstPgno+pgno(i), nil)
	}
	return nil
}

// retireOwnedPage records a page as retired, preferring the dirty-page
// path (immediate loose reuse within this transaction) when the page was
// already touched this txn, and the GC path otherwise.
func (txn *Txn) retireOwnedPage(pg pgno, p *page) {
	if p != nil && p.header().Txnid == txn.txnID {
		txn.freePages = append(txn.freePages, pg)
		return
	}
	if txn.parent == nil {
		txn.retired = append(txn.retired, pg)
	}
}
