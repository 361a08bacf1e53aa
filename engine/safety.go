package engine

import (
	"fmt"
	"regexp"
	"strings"

	"mailpilot/models"
)

// Loop-prevention tables. An inbound message tripping any of these is never
// auto-replied to, for every rule.
var noReplyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)noreply@`),
	regexp.MustCompile(`(?i)no-reply@`),
	regexp.MustCompile(`(?i)do-not-reply@`),
	regexp.MustCompile(`(?i)donotreply@`),
	regexp.MustCompile(`(?i)notifications@`),
	regexp.MustCompile(`(?i)automated@`),
	regexp.MustCompile(`(?i)auto@`),
}

var mailingListHeaders = []string{
	"List-Id",
	"List-Unsubscribe",
	"List-Post",
	"Mailing-List",
	"X-Mailing-List",
}

var autoGeneratedHeaders = []struct {
	Name  string
	Value string
}{
	{"Auto-Submitted", "auto-generated"},
	{"Auto-Submitted", "auto-replied"},
	{"X-Auto-Response-Suppress", "All"},
	{"X-Auto-Response-Suppress", "OOF"},
	{"Precedence", "bulk"},
	{"Precedence", "list"},
	{"Precedence", "junk"},
}

// SafeToReply checks whether an inbound message may receive an automated
// reply at all. Returns false with a human-readable skip reason when the
// sender looks like a machine or a list.
func SafeToReply(msg *models.InboundMessage, ignoreMailingLists bool) (bool, string) {
	addr := msg.SenderAddress()
	for _, re := range noReplyPatterns {
		if re.MatchString(addr) {
			return false, fmt.Sprintf("no-reply address detected: %s", addr)
		}
	}

	if ignoreMailingLists {
		for _, name := range mailingListHeaders {
			if _, ok := msg.RawHeaders.Get(name); ok {
				return false, fmt.Sprintf("mailing list detected: %s header present", name)
			}
		}
	}

	for _, h := range autoGeneratedHeaders {
		if actual, ok := msg.RawHeaders.Get(h.Name); ok {
			if strings.Contains(strings.ToLower(actual), strings.ToLower(h.Value)) {
				return false, fmt.Sprintf("auto-generated email detected: %s=%s", h.Name, actual)
			}
		}
	}

	return true, ""
}
