package planning

import (
	"fmt"
	"strings"
)

// Memory is a bounded rolling log of what the loop has seen and done. It is
// best-effort context only; the oldest text is dropped once the cap is hit.
type Memory struct {
	limit int
	text  string
}

func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

// Record appends a summary of one cycle.
func (m *Memory) Record(cycle int, plan Plan) {
	if m == nil {
		return
	}

	var entry strings.Builder
	fmt.Fprintf(&entry, "\nStep %d: %s", cycle, plan.PageState)
	if len(plan.Actions) > 0 {
		kinds := make([]string, 0, len(plan.Actions))
		for _, action := range plan.Actions {
			kinds = append(kinds, action.Kind.String())
		}
		fmt.Fprintf(&entry, " | Actions: %s", strings.Join(kinds, ", "))
	}
	fmt.Fprintf(&entry, " | Status: %s", plan.GoalStatus)
	m.Append(entry.String())
}

func (m *Memory) Append(text string) {
	if m == nil {
		return
	}

	m.text += text
	if m.limit > 0 && len(m.text) > m.limit {
		m.text = trimFront(m.text, m.limit)
	}
}

// Tail returns at most the newest n characters.
func (m *Memory) Tail(n int) string {
	if m == nil {
		return ""
	}
	if n <= 0 || len(m.text) <= n {
		return m.text
	}
	return trimFront(m.text, n)
}

func (m *Memory) String() string {
	if m == nil {
		return ""
	}
	return m.text
}

func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	return len(m.text)
}

// trimFront keeps the last n bytes of text without splitting a UTF-8
// sequence.
func trimFront(text string, n int) string {
	start := len(text) - n
	for start < len(text) && start > 0 && !isRuneStart(text[start]) {
		start++
	}
	return text[start:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
