package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chorus/internal/domain"
)

const summaryPrefix = "Summary of earlier conversation: "

// maxLastSpeakers bounds the anti-repetition window.
const maxLastSpeakers = 3

// ContextWindow renders conversation history into a bounded transcript for
// supervisor prompts. Histories longer than the threshold have everything but
// the most recent messages replaced by a model-written summary.
type ContextWindow struct {
	summarizer       domain.ModelClient
	threshold        int
	keepRecent       int
	summaryMaxTokens int
	logger           *slog.Logger
}

// NewContextWindow creates a window. Non-positive sizes fall back to 10 and 5.
func NewContextWindow(summarizer domain.ModelClient, threshold, keepRecent, summaryMaxTokens int, logger *slog.Logger) *ContextWindow {
	if threshold <= 0 {
		threshold = 10
	}
	if keepRecent <= 0 || keepRecent > threshold {
		keepRecent = min(5, threshold)
	}
	return &ContextWindow{
		summarizer:       summarizer,
		threshold:        threshold,
		keepRecent:       keepRecent,
		summaryMaxTokens: summaryMaxTokens,
		logger:           logger,
	}
}

// Render returns the transcript of msgs, summarizing the older part when
// needed. A failed summary degrades to the recent tail alone.
func (w *ContextWindow) Render(ctx context.Context, msgs []domain.Message) string {
	if len(msgs) <= w.threshold {
		return transcript(msgs)
	}

	older := msgs[:len(msgs)-w.keepRecent]
	tail := msgs[len(msgs)-w.keepRecent:]

	summary, err := w.summarizer.Invoke(ctx,
		[]domain.Message{{Role: domain.RoleUser, Content: transcript(older)}},
		summarizerInstruction,
		domain.InvokeOptions{Temperature: domain.Temp(0.3), MaxTokens: w.summaryMaxTokens},
	)
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		w.logger.Warn("conversation summary unavailable, using recent messages only",
			"summarized", len(older), "kept", len(tail), "error", err)
		return transcript(tail)
	}

	return summaryPrefix + summary + "\n\n" + transcript(tail)
}

// transcript renders one "speaker: content" line per message.
func transcript(msgs []domain.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.SpeakerLabel(), m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// speakerKey identifies who produced m: the agent ID for agent messages,
// the display label otherwise.
func speakerKey(m domain.Message) string {
	if m.AgentID != "" {
		return m.AgentID
	}
	return m.SpeakerLabel()
}

// lastSpeakers walks msgs backward and returns up to three distinct
// speakers, most recent first.
func lastSpeakers(msgs []domain.Message) []string {
	out := make([]string, 0, maxLastSpeakers)
	for i := len(msgs) - 1; i >= 0 && len(out) < maxLastSpeakers; i-- {
		if msgs[i].Role == domain.RoleSystem {
			continue
		}
		key := speakerKey(msgs[i])
		if !contains(out, key) {
			out = append(out, key)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
