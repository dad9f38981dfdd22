package matchmaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyOf(t *testing.T) {
	tests := []struct {
		name string
		e    *QueueEntry
		want string
	}{
		{"all set", entry("e", "l", t0, withKey("ranked", 2, "pc", "hardcore")), "ranked|2|pc|hardcore"},
		{"all missing", entry("e", "l", t0), "any|any|any|normal"},
		{"blank strings", entry("e", "l", t0, withKey("  ", 0, "", " ")), "any|any|any|normal"},
		{"negative size", entry("e", "l", t0, withKey("ranked", -3, "pc", "normal")), "ranked|any|pc|normal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyOf(tt.e).String())
		})
	}

	// 缺省值与显式默认值落在同一组
	assert.Equal(t, KeyOf(entry("a", "l", t0)), KeyOf(entry("b", "l", t0, withKey("any", 0, "any", "normal"))))
	assert.NotEqual(t, KeyOf(entry("a", "l", t0, ranked2pc)), KeyOf(entry("b", "l", t0, withKey("ranked", 2, "mobile", "normal"))))
}

func TestGroupEntries(t *testing.T) {
	casual := withKey("casual", 0, "", "")
	entries := []*QueueEntry{
		entry("e4", "l4", at(4), casual),
		entry("e2", "l2", at(2)),
		entry("e3", "l3", at(3), casual),
		entry("e1b", "l1b", at(1)),
		entry("e1a", "l1a", at(1)),
	}

	keys, groups := groupEntries(entries)
	assert.Len(t, keys, 2)
	assert.Equal(t, "any|any|any|normal", keys[0].String())
	assert.Equal(t, "casual|any|any|normal", keys[1].String())

	ids := func(list []*QueueEntry) []string {
		out := make([]string, len(list))
		for i, e := range list {
			out[i] = e.ID
		}
		return out
	}
	assert.Equal(t, []string{"e1a", "e1b", "e2"}, ids(groups[keys[0]]))
	assert.Equal(t, []string{"e3", "e4"}, ids(groups[keys[1]]))

	// 不修改调用方的切片
	assert.Equal(t, "e4", entries[0].ID)
}
