package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/tricrawl/internal/model"
)

// previewLimit is the number of characters of content shown in an embed.
const previewLimit = 800

// kst is Korea Standard Time, the zone dates are shown in.
var kst = time.FixedZone("KST", 9*60*60)

// Payload is a Discord webhook message.
type Payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed is one Discord embed.
type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields"`
	Footer      Footer  `json:"footer"`
	Timestamp   string  `json:"timestamp"`
}

// Field is an embed field.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Footer is the embed footer.
type Footer struct {
	Text string `json:"text"`
}

// riskStyle returns the embed colour and emoji for a risk level.
func riskStyle(r model.RiskLevel) (int, string) {
	switch r {
	case model.RiskCritical:
		return 0xff0000, "🔴"
	case model.RiskHigh:
		return 0xe74c3c, "🟠"
	case model.RiskMedium:
		return 0xf39c12, "🟡"
	default:
		return 0x2ecc71, "🟢"
	}
}

// BuildPayload renders item as a single-embed message. now is the embed
// timestamp.
func BuildPayload(item *model.Item, now time.Time) Payload {
	color, emoji := riskStyle(item.RiskLevel)

	description := fmt.Sprintf("🎯 **Target**: %s\n📅 **Date**: %s\n🏷️ **Type**: %s / %s\n\n```%s```",
		orDefault(item.Source, "Unknown"),
		FormatKST(item.Timestamp),
		orDefault(item.SiteType, "Unknown"),
		orDefault(item.Category, "Generic"),
		Preview(item.Content),
	)

	return Payload{
		Embeds: []Embed{{
			Title:       "🚨 " + orDefault(item.Title, "No Title"),
			Description: description,
			Color:       color,
			Fields: []Field{
				{
					Name:   "🔑 Keywords",
					Value:  fmt.Sprintf("%s %s\n%s", emoji, item.RiskLevel, joinOrNone(item.MatchedKeywords)),
					Inline: true,
				},
				{Name: "🎯 Targets", Value: joinOrNone(item.MatchedTargets), Inline: true},
				{Name: "🔗 Source", Value: "`" + item.URL + "`", Inline: false},
			},
			Footer:    Footer{Text: "TriCrawl"},
			Timestamp: now.UTC().Format(time.RFC3339),
		}},
	}
}

// FormatKST renders an ISO-8601 timestamp in KST as
// "2006-01-02 15:04:05 (KST)". Timestamps without a zone are taken as UTC.
// Empty or "Unknown" gives "Unknown"; anything unparseable is returned as is.
func FormatKST(ts string) string {
	if ts == "" || ts == "Unknown" {
		return "Unknown"
	}

	layouts := []struct {
		layout string
		zoned  bool
	}{
		{time.RFC3339Nano, true},
		{"2006-01-02T15:04:05.999999999", false},
		{"2006-01-02 15:04:05.999999999Z07:00", true},
		{"2006-01-02 15:04:05.999999999", false},
		{"2006-01-02", false},
	}
	for _, l := range layouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, ts)
		} else {
			t, err = time.ParseInLocation(l.layout, ts, time.UTC)
		}
		if err == nil {
			return t.In(kst).Format("2006-01-02 15:04:05") + " (KST)"
		}
	}
	return ts
}

// Preview strips blank lines and surrounding whitespace from content and
// cuts it to previewLimit characters, appending "..." when the limit is
// reached.
func Preview(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	r := []rune(strings.Join(lines, "\n"))
	if len(r) == 0 {
		return "(no content)"
	}
	if len(r) >= previewLimit {
		return string(r[:previewLimit]) + "..."
	}
	return string(r)
}

func joinOrNone(list []string) string {
	if len(list) == 0 {
		return "(none)"
	}
	return strings.Join(list, ", ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
