package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailpilot/models"
)

func msgFrom(sender, subject, body string) *models.InboundMessage {
	return &models.InboundMessage{
		Sender:   sender,
		Subject:  subject,
		BodyText: body,
	}
}

func TestMatchesApplyToAll(t *testing.T) {
	cs := models.ConditionSet{ApplyToAll: true}
	assert.True(t, Matches(cs, msgFrom("anyone@example.com", "anything", "")))
}

func TestMatchesEmptySetNeverMatches(t *testing.T) {
	assert.False(t, Matches(models.ConditionSet{}, msgFrom("a@b.com", "hello", "")))
	assert.False(t, Matches(models.ConditionSet{Logic: models.ConditionLogicOr}, msgFrom("a@b.com", "hello", "")))
}

func TestMatchesSenders(t *testing.T) {
	tests := []struct {
		name    string
		senders []string
		sender  string
		want    bool
	}{
		{
			name:    "exact address",
			senders: []string{"alice@example.com"},
			sender:  "alice@example.com",
			want:    true,
		},
		{
			name:    "substring matches display form",
			senders: []string{"alice@example.com"},
			sender:  "Alice Smith <alice@example.com>",
			want:    true,
		},
		{
			name:    "case insensitive",
			senders: []string{"ALICE@EXAMPLE.COM"},
			sender:  "alice@example.com",
			want:    true,
		},
		{
			name:    "partial fragment matches",
			senders: []string{"@example.com"},
			sender:  "bob@example.com",
			want:    true,
		},
		{
			name:    "no match",
			senders: []string{"carol@other.org"},
			sender:  "alice@example.com",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := models.ConditionSet{Senders: tt.senders}
			assert.Equal(t, tt.want, Matches(cs, msgFrom(tt.sender, "s", "")))
		})
	}
}

func TestMatchesDomains(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		sender  string
		want    bool
	}{
		{
			name:    "exact domain",
			domains: []string{"example.com"},
			sender:  "alice@example.com",
			want:    true,
		},
		{
			name:    "case insensitive",
			domains: []string{"Example.COM"},
			sender:  "alice@example.com",
			want:    true,
		},
		{
			name:    "subdomain is not the domain",
			domains: []string{"example.com"},
			sender:  "alice@mail.example.com",
			want:    false,
		},
		{
			name:    "display name form",
			domains: []string{"example.com"},
			sender:  "Alice <alice@example.com>",
			want:    true,
		},
		{
			name:    "no address at all",
			domains: []string{"example.com"},
			sender:  "not-an-address",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := models.ConditionSet{Domains: tt.domains}
			assert.Equal(t, tt.want, Matches(cs, msgFrom(tt.sender, "s", "")))
		})
	}
}

func TestMatchesKeywordsWholeWord(t *testing.T) {
	tests := []struct {
		name     string
		keywords []string
		subject  string
		body     string
		want     bool
	}{
		{
			name:     "word in subject",
			keywords: []string{"invoice"},
			subject:  "Your invoice is ready",
			want:     true,
		},
		{
			name:     "word in body",
			keywords: []string{"invoice"},
			subject:  "Hello",
			body:     "the invoice is attached",
			want:     true,
		},
		{
			name:     "case insensitive",
			keywords: []string{"INVOICE"},
			subject:  "your invoice",
			want:     true,
		},
		{
			name:     "substring of a longer word does not match",
			keywords: []string{"sale"},
			subject:  "wholesale prices",
			want:     false,
		},
		{
			name:     "regex metacharacters are literal",
			keywords: []string{"c++"},
			subject:  "about c++ jobs",
			want:     true,
		},
		{
			name:     "any keyword suffices",
			keywords: []string{"missing", "urgent"},
			subject:  "urgent request",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := models.ConditionSet{Keywords: tt.keywords}
			assert.Equal(t, tt.want, Matches(cs, msgFrom("a@b.com", tt.subject, tt.body)))
		})
	}
}

func TestMatchesUrgentNeedsFlagAndWord(t *testing.T) {
	cs := models.ConditionSet{Urgent: true}

	flagged := msgFrom("a@b.com", "URGENT: server down", "")
	flagged.IsUrgent = true
	assert.True(t, Matches(cs, flagged))

	flagOnly := msgFrom("a@b.com", "server down", "")
	flagOnly.IsUrgent = true
	assert.False(t, Matches(cs, flagOnly))

	wordOnly := msgFrom("a@b.com", "urgent server down", "")
	assert.False(t, Matches(cs, wordOnly))
}

func TestMatchesUnread(t *testing.T) {
	cs := models.ConditionSet{Unread: true}

	unread := msgFrom("a@b.com", "s", "")
	assert.True(t, Matches(cs, unread))

	read := msgFrom("a@b.com", "s", "")
	read.IsRead = true
	assert.False(t, Matches(cs, read))
}

func TestMatchesCategories(t *testing.T) {
	cs := models.ConditionSet{Categories: []uint{3, 7}}

	inSet := msgFrom("a@b.com", "s", "")
	id := uint(7)
	inSet.CategoryID = &id
	assert.True(t, Matches(cs, inSet))

	outOfSet := msgFrom("a@b.com", "s", "")
	other := uint(5)
	outOfSet.CategoryID = &other
	assert.False(t, Matches(cs, outOfSet))

	// Unclassified messages never satisfy a category predicate
	assert.False(t, Matches(cs, msgFrom("a@b.com", "s", "")))
}

func TestMatchesLogic(t *testing.T) {
	msg := msgFrom("alice@example.com", "a plain subject", "")

	and := models.ConditionSet{
		Logic:    models.ConditionLogicAnd,
		Senders:  []string{"alice"},
		Keywords: []string{"invoice"},
	}
	assert.False(t, Matches(and, msg), "AND requires every present predicate")

	or := models.ConditionSet{
		Logic:    models.ConditionLogicOr,
		Senders:  []string{"alice"},
		Keywords: []string{"invoice"},
	}
	assert.True(t, Matches(or, msg), "OR requires any present predicate")

	// AND is the default when no logic is given
	noLogic := models.ConditionSet{
		Senders:  []string{"alice"},
		Keywords: []string{"invoice"},
	}
	assert.False(t, Matches(noLogic, msg))
}

func TestMatchesSent(t *testing.T) {
	sent := &models.SentMessage{
		Recipient: "Bob <bob@client.io>",
		Subject:   "Proposal for the project",
	}

	assert.True(t, MatchesSent(models.ConditionSet{ApplyToAll: true}, sent))
	assert.False(t, MatchesSent(models.ConditionSet{}, sent))

	assert.True(t, MatchesSent(models.ConditionSet{Domains: []string{"client.io"}}, sent))
	assert.False(t, MatchesSent(models.ConditionSet{Domains: []string{"other.io"}}, sent))

	assert.True(t, MatchesSent(models.ConditionSet{Keywords: []string{"proposal"}}, sent))
	assert.True(t, MatchesSent(models.ConditionSet{Senders: []string{"bob@client.io"}}, sent))

	// Predicates that have no meaning for sent mail are ignored entirely
	assert.False(t, MatchesSent(models.ConditionSet{Urgent: true, Unread: true}, sent))
}
