// Copyright (c) 2024 The Sprite Programming Language
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package utils

import "testing"

func TestBitMapSetResetIsSet(t *testing.T) {
	bm := NewBitMap(20)
	if bm.Size() != 20 {
		t.Fatalf("Size() = %d, want 20", bm.Size())
	}
	bm.Set(3)
	bm.Set(17)
	if !bm.IsSet(3) || !bm.IsSet(17) {
		t.Fatal("expected bits 3 and 17 to be set")
	}
	if bm.IsSet(4) {
		t.Fatal("bit 4 should not be set")
	}
	bm.Reset(3)
	if bm.IsSet(3) {
		t.Fatal("bit 3 should have been cleared")
	}
	if !bm.IsSet(17) {
		t.Fatal("clearing bit 3 should not disturb bit 17")
	}
}

func TestBitMapUniteIntersectRemove(t *testing.T) {
	a := NewBitMap(8)
	b := NewBitMap(8)
	a.Set(1)
	a.Set(2)
	b.Set(2)
	b.Set(3)

	if changed := a.Unite(b); !changed {
		t.Fatal("Unite should report a change (bit 3 newly set)")
	}
	for _, bit := range []int{1, 2, 3} {
		if !a.IsSet(bit) {
			t.Errorf("bit %d should be set after Unite", bit)
		}
	}
	if changed := a.Unite(b); changed {
		t.Fatal("repeating Unite with the same operand should report no change")
	}

	c := NewBitMap(8)
	c.Set(2)
	c.Set(3)
	c.Set(4)
	if changed := a.Intersect(c); !changed {
		t.Fatal("Intersect should report a change (bit 1 dropped)")
	}
	if a.IsSet(1) {
		t.Fatal("bit 1 should have been dropped by Intersect")
	}
	if !a.IsSet(2) || !a.IsSet(3) {
		t.Fatal("bits 2 and 3 should survive Intersect")
	}

	if changed := a.Remove(c); !changed {
		t.Fatal("Remove should report a change")
	}
	if a.IsSet(2) || a.IsSet(3) {
		t.Fatal("bits 2 and 3 should have been removed")
	}
}

func TestBitMapSetFrom(t *testing.T) {
	a := NewBitMap(8)
	b := NewBitMap(8)
	b.Set(5)
	if changed := a.SetFrom(b); !changed {
		t.Fatal("SetFrom should report a change")
	}
	if !a.IsSet(5) {
		t.Fatal("bit 5 should have been copied from b")
	}
	if changed := a.SetFrom(b); changed {
		t.Fatal("SetFrom with an already-identical bitmap should report no change")
	}
}
