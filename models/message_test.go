package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "alice@example.com"},
		{"Alice Smith <alice@example.com>", "alice@example.com"},
		{`"Smith, Alice" <alice@example.com>`, "alice@example.com"},
		{"  bob@example.com  ", "bob@example.com"},
		{"< spaced@example.com >", "spaced@example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractAddress(tt.in), tt.in)
	}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice Smith <alice@example.com>", "Alice Smith"},
		{`"Alice Smith" <alice@example.com>`, "Alice Smith"},
		{"alice@example.com", "alice"},
		{"not-an-address", "not-an-address"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractName(tt.in), tt.in)
	}
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("alice@example.com"))
	assert.Equal(t, "example.com", ExtractDomain("Alice <alice@Example.COM>"))
	assert.Equal(t, "", ExtractDomain("no-at-sign"))
}

func TestHeadersGetCaseInsensitive(t *testing.T) {
	h := Headers{"List-Id": "<dev.example.org>"}

	v, ok := h.Get("list-id")
	assert.True(t, ok)
	assert.Equal(t, "<dev.example.org>", v)

	_, ok = h.Get("Precedence")
	assert.False(t, ok)
}

func TestClockTime(t *testing.T) {
	c := NewClockTime(9, 30)
	assert.Equal(t, 9, c.Hour())
	assert.Equal(t, 30, c.Minute())
	assert.Equal(t, ClockTime(570), c)
}

func TestConditionSetIsEmpty(t *testing.T) {
	assert.True(t, ConditionSet{}.IsEmpty())
	assert.True(t, ConditionSet{Logic: ConditionLogicOr}.IsEmpty())
	assert.False(t, ConditionSet{ApplyToAll: true}.IsEmpty())
	assert.False(t, ConditionSet{Keywords: []string{"x"}}.IsEmpty())
	assert.False(t, ConditionSet{Urgent: true}.IsEmpty())
	assert.False(t, ConditionSet{Categories: []uint{1}}.IsEmpty())
}

func TestRuleInSchedule(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	assert.True(t, (&AutoReplyRule{}).InSchedule(now), "nil bounds are unbounded")
	assert.True(t, (&AutoReplyRule{ScheduleStart: &before}).InSchedule(now))
	assert.False(t, (&AutoReplyRule{ScheduleStart: &after}).InSchedule(now))
	assert.True(t, (&AutoReplyRule{ScheduleEnd: &after}).InSchedule(now))
	assert.False(t, (&AutoReplyRule{ScheduleEnd: &before}).InSchedule(now))
	assert.True(t, (&AutoReplyRule{ScheduleStart: &before, ScheduleEnd: &after}).InSchedule(now))
}

func TestFollowUpRuleSequenceStep(t *testing.T) {
	rule := &FollowUpRule{Sequences: []FollowUpSequence{
		{SequenceNumber: 1, DelayDays: 2},
		{SequenceNumber: 2, DelayDays: 5},
	}}

	step := rule.SequenceStep(2)
	assert.NotNil(t, step)
	assert.Equal(t, 5, step.DelayDays)
	assert.Nil(t, rule.SequenceStep(3))
}
