package engine

import (
	"regexp"
	"strings"
	"sync"

	"mailpilot/models"
)

// Matches evaluates a condition set against an inbound message.
//
// Semantics:
//   - apply_to_all short-circuits to true.
//   - An empty set (no predicate besides the logic selector) never matches;
//     store-layer validation rejects such sets, this is the backstop.
//   - Present predicates combine with AND unless condition_logic is OR.
//   - senders: case-insensitive substring match against the sender address.
//   - domains: exact match against the part after "@".
//   - keywords: whole-word, case-insensitive match over subject+body+snippet.
//   - urgent: requires the urgency flag AND "urgent" in the subject.
//   - unread: requires the unread flag.
//   - categories: the message's category id must be in the set; an
//     unclassified message fails the predicate.
func Matches(conditions models.ConditionSet, msg *models.InboundMessage) bool {
	if conditions.ApplyToAll {
		return true
	}
	if conditions.IsEmpty() {
		return false
	}

	or := strings.EqualFold(conditions.Logic, models.ConditionLogicOr)

	present := 0
	passed := 0
	check := func(ok bool) {
		present++
		if ok {
			passed++
		}
	}

	if len(conditions.Senders) > 0 {
		check(matchSenders(conditions.Senders, msg.Sender))
	}
	if len(conditions.Domains) > 0 {
		check(matchDomains(conditions.Domains, msg.Sender))
	}
	if len(conditions.Keywords) > 0 {
		check(matchKeywords(conditions.Keywords, msg.Subject+" "+msg.BodyText+" "+msg.Snippet))
	}
	if conditions.Urgent {
		check(msg.IsUrgent && strings.Contains(strings.ToLower(msg.Subject), "urgent"))
	}
	if conditions.Unread {
		check(!msg.IsRead)
	}
	if len(conditions.Categories) > 0 {
		check(msg.CategoryID != nil && containsUint(conditions.Categories, *msg.CategoryID))
	}

	if or {
		return passed > 0
	}
	return passed == present
}

// MatchesSent evaluates the recipient-facing predicates of a condition set
// against one of the owner's sent messages. Follow-up rules target who the
// owner wrote to, so senders/domains apply to the recipient and keywords to
// the subject; urgency, unread state and categories have no meaning here and
// are ignored.
func MatchesSent(conditions models.ConditionSet, sent *models.SentMessage) bool {
	if conditions.ApplyToAll {
		return true
	}
	if conditions.IsEmpty() {
		return false
	}

	or := strings.EqualFold(conditions.Logic, models.ConditionLogicOr)

	present := 0
	passed := 0
	check := func(ok bool) {
		present++
		if ok {
			passed++
		}
	}

	if len(conditions.Senders) > 0 {
		check(matchSenders(conditions.Senders, sent.Recipient))
	}
	if len(conditions.Domains) > 0 {
		check(matchDomains(conditions.Domains, sent.Recipient))
	}
	if len(conditions.Keywords) > 0 {
		check(matchKeywords(conditions.Keywords, sent.Subject))
	}

	if present == 0 {
		return false
	}
	if or {
		return passed > 0
	}
	return passed == present
}

func matchSenders(patterns []string, sender string) bool {
	s := strings.ToLower(sender)
	for _, p := range patterns {
		if p != "" && strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func matchDomains(domains []string, sender string) bool {
	d := models.ExtractDomain(sender)
	if d == "" {
		return false
	}
	for _, want := range domains {
		if strings.EqualFold(want, d) {
			return true
		}
	}
	return false
}

var (
	wordRegexMu    sync.Mutex
	wordRegexCache = map[string]*regexp.Regexp{}
)

func wordRegex(keyword string) *regexp.Regexp {
	wordRegexMu.Lock()
	defer wordRegexMu.Unlock()
	if re, ok := wordRegexCache[keyword]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
	wordRegexCache[keyword] = re
	return re
}

func matchKeywords(keywords []string, text string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if wordRegex(kw).MatchString(text) {
			return true
		}
	}
	return false
}

func containsUint(set []uint, v uint) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
