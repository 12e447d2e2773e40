package redixcluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotOf(t *testing.T) {
	cases := []struct {
		in  string
		out Slot
	}{
		{"", 0},
		{"a", 15495},
		{"b", 3300},
		{"ab", 13567},
		{"abc", 7638},
		{"a{b}", 3300},
		{"{a}b", 15495},
		{"{a}{b}", 15495},
		{"{}{a}{b}", 11267},
		{"a{b}c", 3300},
		{"{a}bc", 15495},
		{"{a}{b}{c}", 15495},
		{"{}{a}{b}{c}", 1044},
		{"a{bc}d", 12685},
		{"a{bcd}", 1872},
		{"{abcd}", 10294},
		{"abcd", 10294},
		{"{a", 10276},
		{"a}", 5921},
		{"123456789", 12739},
		{"a{}{b}c", 14872},
	}

	for _, c := range cases {
		got := SlotOf(c.in)
		assert.Equal(t, c.out, got, c.in)
		assert.True(t, got >= 0 && got < HashSlots, "slot in range for %q", c.in)
	}
}

func TestSlotOfHashTagCoherence(t *testing.T) {
	cases := [][2]string{
		{"{user42}.name", "{user42}.age"},
		{"foo{bar}", "baz{bar}"},
	}
	for _, c := range cases {
		assert.Equal(t, SlotOf(c[0]), SlotOf(c[1]), "%s vs %s", c[0], c[1])
	}
}

func TestHashTag(t *testing.T) {
	cases := []struct{ in, out string }{
		{"foo", "foo"},
		{"foo{bar}", "bar"},
		{"{bar}foo", "bar"},
		{"foo{}bar", "foo{}bar"},
		{"{a}{b}", "a"},
	}
	for _, c := range cases {
		assert.Equal(t, c.out, HashTag(c.in), c.in)
	}
}
