package reorder

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func TestPopSmallestFirst(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []int64
		want []int64
	}{
		{name: "b-frame pattern", in: []int64{5, 1, 3}, want: []int64{1, 3, 5}},
		{name: "already ordered", in: []int64{0, 33, 66}, want: []int64{0, 33, 66}},
		{name: "duplicates kept", in: []int64{40, 40, 10}, want: []int64{10, 40, 40}},
		{name: "negative", in: []int64{0, -33, 33}, want: []int64{-33, 0, 33}},
		{name: "single", in: []int64{7}, want: []int64{7}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := New()
			for _, ts := range tc.in {
				q.Push(ts)
			}
			var got []int64
			for {
				ts, ok := q.Pop()
				if !ok {
					break
				}
				got = append(got, ts)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestInterleavedPushPop(t *testing.T) {
	t.Parallel()

	q := New()
	q.Push(5)
	q.Push(1)
	if ts, _ := q.Pop(); ts != 1 {
		t.Fatalf("first pop = %d, want 1", ts)
	}
	q.Push(3)
	if ts, _ := q.Pop(); ts != 3 {
		t.Fatalf("second pop = %d, want 3", ts)
	}
	if ts, _ := q.Pop(); ts != 5 {
		t.Fatalf("third pop = %d, want 5", ts)
	}
	if _, ok := q.Pop(); ok {
		t.Error("queue should be empty")
	}
}

func TestRandomOrderDrainsSorted(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	q := New()
	want := make([]int64, 500)
	for i := range want {
		want[i] = r.Int64N(1_000_000)
		q.Push(want[i])
	}
	slices.Sort(want)

	for i, w := range want {
		got, ok := q.Pop()
		if !ok || got != w {
			t.Fatalf("pop %d = (%d, %v), want %d", i, got, ok, w)
		}
	}
}

func TestPeekAndReset(t *testing.T) {
	t.Parallel()

	q := New()
	if _, ok := q.Peek(); ok {
		t.Fatal("Peek on empty queue should report false")
	}
	q.Push(9)
	q.Push(2)
	if ts, ok := q.Peek(); !ok || ts != 2 {
		t.Errorf("Peek = (%d, %v), want (2, true)", ts, ok)
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
	q.Reset()
	if q.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", q.Len())
	}
}
