package matchmaker

import (
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultGameType = "any"
	DefaultPlatform = "any"
	DefaultMode     = "normal"
)

// GroupKey 兼容组。缺省字段统一落到固定默认值，所以都没填的两个大厅可以互相匹配
type GroupKey struct {
	GameType string
	TeamSize int
	Platform string
	Mode     string
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func KeyOf(e *QueueEntry) GroupKey {
	size := e.TeamSize
	if size < 0 {
		size = 0
	}
	return GroupKey{
		GameType: orDefault(e.GameType, DefaultGameType),
		TeamSize: size,
		Platform: orDefault(e.Platform, DefaultPlatform),
		Mode:     orDefault(e.Mode, DefaultMode),
	}
}

// String 形如 ranked|2|pc|normal，teamSize 未设置时为 any
func (k GroupKey) String() string {
	size := "any"
	if k.TeamSize > 0 {
		size = strconv.Itoa(k.TeamSize)
	}
	return strings.Join([]string{k.GameType, size, k.Platform, k.Mode}, "|")
}

// sortFIFO 按 CreatedAt 升序，时间相同按 ID
func sortFIFO(entries []*QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// groupEntries 按兼容组切分快照。keys 保持首次出现的顺序，组内保持 FIFO
func groupEntries(entries []*QueueEntry) ([]GroupKey, map[GroupKey][]*QueueEntry) {
	sorted := make([]*QueueEntry, len(entries))
	copy(sorted, entries)
	sortFIFO(sorted)

	keys := make([]GroupKey, 0)
	groups := make(map[GroupKey][]*QueueEntry)
	for _, e := range sorted {
		k := KeyOf(e)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}
	return keys, groups
}
