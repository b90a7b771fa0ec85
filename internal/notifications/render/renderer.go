// Package render formats inbox listings and relay updates as terminal text.
package render

import (
	"fmt"
	"strings"

	"golang.org/x/text/message"
	"golang.org/x/text/width"

	"github.com/matt-davison/agent-quest/internal/notifications/domain"
	"github.com/matt-davison/agent-quest/internal/session/relay"
)

// BoxWidth is the number of columns between the inbox box borders.
const BoxWidth = 61

const (
	senderWidth  = 30
	detailWidth  = 45
	sessionWidth = 40
	subjectWidth = 40
)

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Inbox renders the actionable entries as a bordered listing grouped by
// priority. No entries render as the empty string.
func Inbox(loc Localizer, entries []domain.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	rule := strings.Repeat("═", BoxWidth)
	lines := []string{"╔" + rule + "╗", centered(localize(loc, "inbox.title", len(entries)))}

	grouped := map[domain.Priority][]domain.Entry{}
	for _, e := range entries {
		grouped[e.Priority] = append(grouped[e.Priority], e)
	}

	item := 1
	for _, priority := range domain.Priorities() {
		group := grouped[priority]
		if len(group) == 0 {
			continue
		}
		lines = append(lines, "╠"+rule+"╣", boxLine(" "+localize(loc, "inbox.section."+string(priority))))
		for _, e := range group {
			typ := domain.Type(e.Type)
			sender := e.From
			if e.FromCharacter != "" {
				sender = fmt.Sprintf("%s (%s)", e.FromCharacter, e.From)
			}
			label := strings.ToUpper(strings.ReplaceAll(e.Type, "-", " "))
			lines = append(lines, boxLine(fmt.Sprintf("  %d. [%s] %s %s", item, label, typ.Icon(), truncate(sender, senderWidth))))
			for _, detail := range details(loc, e) {
				lines = append(lines, boxLine("     "+detail))
			}
			if e.Expiry.Expired {
				lines = append(lines, boxLine("     → "+localize(loc, "inbox.expired")))
			} else {
				lines = append(lines, boxLine("     → "+localize(loc, "inbox.expires", Expiry(loc, e.Expiry))))
			}
			item++
		}
	}
	lines = append(lines, "╚"+rule+"╝")
	return strings.Join(lines, "\n")
}

func details(loc Localizer, e domain.Entry) []string {
	out := []string{}
	messageLine := func() {
		if e.Message != "" {
			out = append(out, localize(loc, "inbox.detail.message", truncate(e.Message, detailWidth)))
		}
	}
	switch typ := domain.Type(e.Type); typ {
	case domain.TypeRTInvite:
		out = append(out, localize(loc, "inbox.detail.rt-invite"))
		if e.SessionID != "" {
			out = append(out, localize(loc, "inbox.detail.session", truncate(e.SessionID, sessionWidth)))
		}
	case domain.TypeMail:
		if e.Subject != "" {
			out = append(out, localize(loc, "inbox.detail.subject", truncate(e.Subject, subjectWidth)))
		} else {
			messageLine()
		}
	case domain.TypeDuelChallenge, domain.TypeTradeOffer, domain.TypePartyInvite, domain.TypeGuildInvite, domain.TypeFriendRequest:
		out = append(out, localize(loc, "inbox.detail."+string(typ)))
		messageLine()
	default:
		text := e.Message
		if text == "" {
			text = e.Subject
		}
		if text != "" {
			out = append(out, localize(loc, "inbox.detail.message", truncate(text, detailWidth)))
		}
	}
	return out
}

// Expiry renders the time left on a notification.
func Expiry(loc Localizer, e domain.Expiry) string {
	if e.Expired {
		return localize(loc, "core.expiry.expired")
	}
	key := "core.expiry." + e.Unit
	if e.Amount != 1 {
		key += "s"
	}
	return localize(loc, key, e.Amount)
}

// RTUpdate renders the messages other players posted since the last check.
// No messages render as the empty string.
func RTUpdate(loc Localizer, batches []relay.PlayerMessages) string {
	lines := []string{}
	for _, batch := range batches {
		for _, msg := range batch.Messages {
			if msg.Narrative != "" {
				lines = append(lines, fmt.Sprintf("[%s/%s] %s", batch.Player, batch.Character, msg.Narrative))
			} else {
				lines = append(lines, fmt.Sprintf("[%s/%s] (%s) seq:%d", batch.Player, batch.Character, msg.Type, msg.Seq))
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	lines = append([]string{localize(loc, "core.rt.header")}, lines...)
	lines = append(lines, localize(loc, "core.rt.footer"))
	return strings.Join(lines, "\n")
}

func boxLine(text string) string {
	return "║ " + text + strings.Repeat(" ", max(0, BoxWidth-1-visibleWidth(text))) + "║"
}

func centered(text string) string {
	w := visibleWidth(text)
	left := max(0, (BoxWidth-w)/2)
	right := max(0, BoxWidth-w-left)
	return "║" + strings.Repeat(" ", left) + text + strings.Repeat(" ", right) + "║"
}

// visibleWidth approximates terminal columns. Wide runes take two, and an
// emoji presentation selector widens the rune before it.
func visibleWidth(text string) int {
	total := 0
	prev := 0
	for _, r := range text {
		switch r {
		case '\uFE0F':
			if prev == 1 {
				total++
				prev = 2
			}
			continue
		case '\uFE0E', '\u200D':
			continue
		}
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			prev = 2
		default:
			prev = 1
		}
		total += prev
	}
	return total
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-3]) + "..."
}

func localize(loc Localizer, key string, args ...any) string {
	if loc == nil {
		return key
	}
	return loc.Sprintf(key, args...)
}
