package bot

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Reply kinds produced by the classifier.
type ReplyKind string

const (
	KindNone                 ReplyKind = "none"
	KindAssistant            ReplyKind = "assistant"
	KindStructuredExtraction ReplyKind = "structured_extraction"
)

// catalogToken selects the structured-extraction path, disjoint from
// the fuzzy trigger matching.
const catalogToken = "@catalog"

// Decision is the classifier's verdict for one inbound text.
type Decision struct {
	Engage       bool
	Kind         ReplyKind
	HistoryDepth int
}

// Classify decides whether the assistant should engage with the given
// text and how much prior history to pull. In dev mode the fuzzy
// matcher is bypassed entirely by a literal token check so tests stay
// deterministic.
func (b *Bot) Classify(text, mode string) Decision {
	lower := strings.ToLower(strings.TrimSpace(text))

	if b.cfg.DevMode {
		if strings.Contains(lower, b.cfg.DevToken) {
			return Decision{Engage: true, Kind: KindAssistant, HistoryDepth: b.cfg.EngagedDepth}
		}
		return Decision{Kind: KindNone, HistoryDepth: b.cfg.PassiveDepth}
	}

	if strings.Contains(lower, catalogToken) || mode == ModeCatalog {
		return Decision{Engage: true, Kind: KindStructuredExtraction, HistoryDepth: b.cfg.PassiveDepth}
	}

	best := 0
	for _, trigger := range b.cfg.Triggers {
		if score := triggerScore(lower, strings.ToLower(trigger)); score > best {
			best = score
		}
	}
	if best >= b.cfg.TriggerThreshold {
		return Decision{Engage: true, Kind: KindAssistant, HistoryDepth: b.cfg.EngagedDepth}
	}
	return Decision{Kind: KindNone, HistoryDepth: b.cfg.PassiveDepth}
}

// triggerScore returns the best similarity (0-100) between the trigger
// and any token window of the text. Scoring per token rather than over
// the raw character stream keeps superstrings like "botox" from
// matching the trigger "bot".
func triggerScore(text, trigger string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	span := len(strings.Fields(trigger))
	if span < 1 {
		return 0
	}

	best := 0
	for i := 0; i+span <= len(words); i++ {
		window := strings.Join(words[i:i+span], " ")
		if score := similarity(window, trigger); score > best {
			best = score
		}
	}
	return best
}

// similarity is a normalized Levenshtein ratio on a 0-100 scale.
func similarity(a, b string) int {
	if a == b {
		return 100
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := matchr.Levenshtein(a, b)
	return (longest - dist) * 100 / longest
}
