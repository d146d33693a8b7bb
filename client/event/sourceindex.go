// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package event

import (
	iradix "github.com/hashicorp/go-immutable-radix/v2"
)

// sourceIndex backs a subscription's Filter.Sources allow-list with an
// immutable radix tree keyed by source name, per SPEC_FULL.md's domain
// stack: interning the source strings this way keeps a subscriber with a
// large allow-list (many driver sources feeding one dashboard subscriber)
// off a linear scan per dispatched event, the same tree the registry's
// sibling package (go-memdb) already uses internally for its own string
// indexes.
type sourceIndex struct {
	tree *iradix.Tree[struct{}]
}

// newSourceIndex builds an index from sources. A nil index (sources is
// empty) means "no restriction" - every source matches, per Filter's
// documented zero-value semantics.
func newSourceIndex(sources []string) *sourceIndex {
	if len(sources) == 0 {
		return nil
	}
	tree := iradix.New[struct{}]()
	for _, s := range sources {
		tree, _, _ = tree.Insert([]byte(s), struct{}{})
	}
	return &sourceIndex{tree: tree}
}

// contains reports whether name is in the allow-list. A nil receiver
// (no restriction configured) always matches.
func (idx *sourceIndex) contains(name string) bool {
	if idx == nil {
		return true
	}
	_, found := idx.tree.Get([]byte(name))
	return found
}
