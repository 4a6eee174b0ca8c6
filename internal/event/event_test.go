package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestList_RegistrationOrder(t *testing.T) {
	var ls List[func(*[]int)]
	ls.Add(func(out *[]int) { *out = append(*out, 1) })
	sub := ls.Add(func(out *[]int) { *out = append(*out, 2) })
	ls.Add(func(out *[]int) { *out = append(*out, 3) })

	var got []int
	ls.Each(func(f func(*[]int)) { f(&got) })
	assert.Equal(t, []int{1, 2, 3}, got)

	sub.Close()
	sub.Close()
	got = nil
	ls.Each(func(f func(*[]int)) { f(&got) })
	assert.Equal(t, []int{1, 3}, got)
	assert.Equal(t, 2, ls.Len())
}

func TestList_RemoveDuringIteration(t *testing.T) {
	var ls List[func()]
	calls := 0
	var second Subscription
	ls.Add(func() {
		calls++
		second.Close()
	})
	second = ls.Add(func() { calls++ })

	// The snapshot still includes the second listener.
	ls.Each(func(f func()) { f() })
	assert.Equal(t, 2, calls)

	ls.Each(func(f func()) { f() })
	assert.Equal(t, 3, calls)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop.Close() })
}
