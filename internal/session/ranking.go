package session

import (
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

const (
	MinOptions = 2
	MaxOptions = 20
)

// SplitRanking 按逗号、分号或换行切分用户输入的排序
func SplitRanking(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})
	entries := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			entries = append(entries, f)
		}
	}
	return entries
}

// ParseRanking 将排序条目解析为候选项下标，从最喜欢到最不喜欢。
// 条目可以是候选项名称（不区分大小写）或从 1 开始的序号，
// 且必须恰好覆盖每个候选项一次。
func ParseRanking(options []string, entries []string) ([]int, error) {
	if len(entries) == 0 {
		return nil, invalid(ErrInvalidRanking, "the ranking is empty, list every choice from most to least preferred")
	}

	order := make([]int, 0, len(entries))
	for _, entry := range entries {
		idx, err := resolveEntry(options, entry)
		if err != nil {
			return nil, err
		}
		if slices.Contains(order, idx) {
			return nil, invalid(ErrInvalidRanking, "%q is ranked more than once", options[idx])
		}
		order = append(order, idx)
	}

	if len(order) != len(options) {
		var missing []string
		for i, o := range options {
			if !slices.Contains(order, i) {
				missing = append(missing, o)
			}
		}
		return nil, invalid(ErrInvalidRanking, "the ranking must include every choice, missing: %s", strings.Join(missing, ", "))
	}
	return order, nil
}

func resolveEntry(options []string, entry string) (int, error) {
	entry = strings.TrimSpace(entry)
	if idx := slices.IndexFunc(options, func(o string) bool { return strings.EqualFold(o, entry) }); idx >= 0 {
		return idx, nil
	}
	if n, err := strconv.Atoi(entry); err == nil {
		if n < 1 || n > len(options) {
			return 0, invalid(ErrInvalidRanking, "choice number %d is out of range 1-%d", n, len(options))
		}
		return n - 1, nil
	}
	return 0, invalid(ErrInvalidRanking, "%q is not one of the choices", entry)
}

// Ballot 生成 Direct Decisions 选票：候选项 -> 名次，1 为最优
func Ballot(options []string, order []int) map[string]int {
	ballot := make(map[string]int, len(order))
	for rank, idx := range order {
		ballot[options[idx]] = rank + 1
	}
	return ballot
}

// NormalizeOptions 去除空白与重复项并检查数量
func NormalizeOptions(raw []string) ([]string, error) {
	options := make([]string, 0, len(raw))
	for _, o := range raw {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if slices.ContainsFunc(options, func(x string) bool { return strings.EqualFold(x, o) }) {
			return nil, invalid(ErrInvalidCommand, "choice %q is listed more than once", o)
		}
		options = append(options, o)
	}
	if len(options) < MinOptions || len(options) > MaxOptions {
		return nil, invalid(ErrInvalidCommand, "a voting needs between %d and %d distinct choices", MinOptions, MaxOptions)
	}
	return options, nil
}
