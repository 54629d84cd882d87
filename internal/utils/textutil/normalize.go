package textutil

import "strings"

// NormalizeName 规范化名称，用于跨数据源的同名判定：转小写，仅保留 [a-z0-9_.]
// 不处理重音与同义词（"München" 与 "Munchen" 不相等）
func NormalizeName(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// NameKey 持久化的名称键。规范化后为空（如纯中文、纯符号名称）时退回小写原文，
// 避免所有此类名称被归并到同一个空键
func NameKey(name string) string {
	if k := NormalizeName(name); k != "" {
		return k
	}
	return "~" + strings.ToLower(strings.TrimSpace(name))
}
