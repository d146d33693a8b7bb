// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package hal

import (
	"testing"

	"github.com/shoenig/test/must"
)

const kindBuffer Kind = 1

func TestTable_AllocDeref(t *testing.T) {
	tbl := NewTable[string](kindBuffer)

	h := tbl.Alloc("first")
	must.True(t, h.Valid())
	must.Eq(t, HandleID(1), h.ID)
	must.Eq(t, uint32(1), h.Generation)

	v, err := tbl.Deref(h)
	must.Nil(t, err)
	must.Eq(t, "first", v)
}

func TestTable_GenerationSafety(t *testing.T) {
	// Scenario D: create buffer -> h1{id=1,gen=1}; destroy; create another ->
	// registry reuses slot 1 with gen=2. h1 must fail; the new handle must
	// succeed.
	tbl := NewTable[string](kindBuffer)

	h1 := tbl.Alloc("buffer-a")
	must.Nil(t, tbl.Free(h1))

	h2 := tbl.Alloc("buffer-b")
	must.Eq(t, h1.ID, h2.ID)
	must.Eq(t, uint32(2), h2.Generation)

	_, err := tbl.Deref(h1)
	must.NotNil(t, err)
	must.Eq(t, ErrInvalidHandle, err.Kind)

	v, err := tbl.Deref(h2)
	must.Nil(t, err)
	must.Eq(t, "buffer-b", v)
}

func TestTable_WrongKindRejected(t *testing.T) {
	const otherKind Kind = 2
	tbl := NewTable[int](kindBuffer)
	h := tbl.Alloc(42)
	h.KindTag = otherKind

	_, err := tbl.Deref(h)
	must.NotNil(t, err)
	must.Eq(t, ErrInvalidHandle, err.Kind)
}

func TestTable_DoubleFree(t *testing.T) {
	tbl := NewTable[int](kindBuffer)
	h := tbl.Alloc(1)
	must.Nil(t, tbl.Free(h))

	err := tbl.Free(h)
	must.NotNil(t, err)
	must.Eq(t, ErrInvalidHandle, err.Kind)
}

func TestTable_ZeroHandleInvalid(t *testing.T) {
	var h Handle
	must.False(t, h.Valid())

	tbl := NewTable[int](kindBuffer)
	_, err := tbl.Deref(h)
	must.NotNil(t, err)
}

func TestTable_Len(t *testing.T) {
	tbl := NewTable[int](kindBuffer)
	must.Eq(t, 0, tbl.Len())

	h1 := tbl.Alloc(1)
	tbl.Alloc(2)
	must.Eq(t, 2, tbl.Len())

	must.Nil(t, tbl.Free(h1))
	must.Eq(t, 1, tbl.Len())
}
