package collection

// Group 分组结果中的一项，Items 保持输入顺序
type Group[K comparable, T any] struct {
	Key   K
	Items []T
}

// GroupBy 按 keyFn 分组，分组顺序为每个 key 首次出现的顺序
func GroupBy[K comparable, T any](items []T, keyFn func(T) K) []Group[K, T] {
	index := make(map[K]int)
	var groups []Group[K, T]
	for _, item := range items {
		k := keyFn(item)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group[K, T]{Key: k})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// Unique 去重并保持首次出现顺序
func Unique[T comparable](items []T) []T {
	seen := make(map[T]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
