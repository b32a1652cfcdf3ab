// SPDX-License-Identifier: Apache-2.0
package resilience

import "strings"

// MergeStrategy combines per-chunk outputs into one result. Splitting a
// payload at an exact chunk boundary and merging with ConcatMerge must
// reproduce the unsplit result.
type MergeStrategy interface {
	Merge(parts []string) string
	Name() string
}

// ConcatMerge joins chunk outputs in order, suited to free-text tasks.
type ConcatMerge struct {
	Separator string
}

func (c ConcatMerge) Merge(parts []string) string {
	return strings.Join(parts, c.Separator)
}

func (ConcatMerge) Name() string { return "concat" }

// LastWinsMerge keeps only the final chunk's output, suited to
// classification-style tasks where later chunks see the full context.
type LastWinsMerge struct{}

func (LastWinsMerge) Merge(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func (LastWinsMerge) Name() string { return "last-wins" }

// MergeStrategyByName resolves a strategy tag, defaulting to concat.
func MergeStrategyByName(name string) MergeStrategy {
	switch name {
	case "last-wins", "last_wins":
		return LastWinsMerge{}
	default:
		return ConcatMerge{}
	}
}

// splitPayload breaks a payload into ordered chunks of at most limit runes.
// Splitting never lands inside a multi-byte rune.
func splitPayload(payload string, limit int) []string {
	if limit <= 0 || len([]rune(payload)) <= limit {
		return []string{payload}
	}
	runes := []rune(payload)
	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
