package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func item(quantity, received float64) Item {
	return Item{Quantity: quantity, ReceivedQuantity: received}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name  string
		items []Item
		want  Status
	}{
		{"empty checklist", nil, StatusPending},
		{"nothing received", []Item{item(5, 0)}, StatusPending},
		{"partially received", []Item{item(5, 3)}, StatusPartial},
		{"fully received", []Item{item(5, 5)}, StatusTransferred},
		{"one full one short", []Item{item(5, 5), item(2, 1)}, StatusPartial},
		{"one full one untouched", []Item{item(5, 5), item(2, 0)}, StatusPartial},
		{"all full", []Item{item(5, 5), item(2, 2), item(9, 9)}, StatusTransferred},
		{"all untouched", []Item{item(5, 0), item(2, 0)}, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.items))
		})
	}
}

func TestDeriveStatusOrderInvariant(t *testing.T) {
	items := []Item{item(5, 5), item(2, 1), item(3, 0)}
	want := DeriveStatus(items)
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		shuffled := []Item{items[p[0]], items[p[1]], items[p[2]]}
		require.Equal(t, want, DeriveStatus(shuffled))
	}
}

func TestDeriveStatusMonotonic(t *testing.T) {
	rank := map[Status]int{StatusPending: 0, StatusPartial: 1, StatusTransferred: 2}
	items := []Item{item(5, 0), item(2, 0), item(4, 0)}
	prev := DeriveStatus(items)
	// Raise quantities one unit at a time; status may only move forward.
	for i := range items {
		for items[i].ReceivedQuantity < items[i].Quantity {
			items[i].ReceivedQuantity++
			next := DeriveStatus(items)
			require.GreaterOrEqual(t, rank[next], rank[prev])
			prev = next
		}
	}
	require.Equal(t, StatusTransferred, prev)
}
