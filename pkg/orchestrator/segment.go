package orchestrator

import (
	"regexp"
	"strconv"
	"strings"
)

// pauseTokenPattern is the literal pause-token grammar:
// `\[pause:(\d+(?:\.\d+)?)s?\]`, case-insensitive. This is the single
// definition used by both the Synthesizer Driver and the transcript
// renderer, so there is exactly one place that recognizes a pause token.
var pauseTokenPattern = regexp.MustCompile(`(?i)\[pause:(\d+(?:\.\d+)?)s?\]`)

// Segment is a maximal contiguous run of non-pause text within an agent
// reply, plus the pause duration (seconds) that follows it, if any.
type Segment struct {
	Text       string
	PauseAfter float64 // seconds; 0 if no pause token followed this segment
	Index      int
}

// IsPauseOnly reports whether this segment carries no speakable text (e.g.
// the reply began with a pause token, or two pause tokens were adjacent).
func (s Segment) IsPauseOnly() bool {
	return strings.TrimSpace(s.Text) == ""
}

// SplitSegments partitions reply on pause tokens; the result is a pure
// function of reply. The text before each pause token becomes a Segment,
// even when empty (a pause-only Segment), with PauseAfter set to that
// token's duration; text after the last token becomes a final Segment with
// PauseAfter 0 only when it is non-empty.
//
// A reply that is only a pause token (no surrounding text) yields a single
// pause-only Segment: a reply consisting of only a pause token produces no
// transcript entries and no audio.
func SplitSegments(reply string) []Segment {
	locs := pauseTokenPattern.FindAllStringSubmatchIndex(reply, -1)

	if len(locs) == 0 {
		// No pause tokens: the whole reply is a single segment (possibly
		// empty), matching "a reply with no pause tokens plays as a single
		// segment and appears as a single transcript entry".
		return []Segment{{Text: strings.TrimSpace(reply), PauseAfter: 0, Index: 0}}
	}

	var segments []Segment
	cursor := 0
	for _, loc := range locs {
		matchStart, matchEnd := loc[0], loc[1]
		durStart, durEnd := loc[2], loc[3]

		text := strings.TrimSpace(reply[cursor:matchStart])
		dur, _ := strconv.ParseFloat(reply[durStart:durEnd], 64)
		segments = append(segments, Segment{Text: text, PauseAfter: dur})
		cursor = matchEnd
	}

	if trailing := strings.TrimSpace(reply[cursor:]); trailing != "" {
		segments = append(segments, Segment{Text: trailing, PauseAfter: 0})
	}

	for i := range segments {
		segments[i].Index = i
	}
	return segments
}

// StripPauseTokens removes every pause token from text, leaving the
// speakable content the TTS Service should actually synthesize; the
// Synthesizer Driver strips pause tokens before calling it.
func StripPauseTokens(text string) string {
	return strings.TrimSpace(pauseTokenPattern.ReplaceAllString(text, ""))
}

// Pause-adjustment constants. Concrete values chosen for this build; see
// DESIGN.md "Resolved open questions" #2.
const (
	shortSegmentRunes  = 40
	pauseScaleDownFactor = 0.5
	pauseScaleDownFloor  = 120 // milliseconds
	markerExtensionMS    = 150
)

// comedicTransitionMarkers are the context keywords that preserve or extend
// a pause instead of shortening it.
var comedicTransitionMarkers = []string{"but", "however", "actually", "plot twist"}

func hasTransitionMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range comedicTransitionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// AdjustPause implements the deterministic pause-duration adjustment rule: a
// pause between two short segments with no transition marker on either side
// is scaled down to favor natural conversational flow; a pause adjacent to a
// marker is preserved or extended. originalSeconds, prevText and nextText
// are the only inputs: the result is a deterministic function of (original
// duration, previous segment text, next segment text).
func AdjustPause(originalSeconds float64, prevText, nextText string) float64 {
	originalMS := originalSeconds * 1000

	bothShort := len([]rune(prevText)) <= shortSegmentRunes && len([]rune(nextText)) <= shortSegmentRunes
	markerPresent := hasTransitionMarker(prevText) || hasTransitionMarker(nextText)

	if markerPresent {
		return (originalMS + markerExtensionMS) / 1000
	}

	if bothShort {
		scaled := originalMS * pauseScaleDownFactor
		if scaled < pauseScaleDownFloor {
			scaled = pauseScaleDownFloor
		}
		if scaled > originalMS {
			scaled = originalMS
		}
		return scaled / 1000
	}

	return originalSeconds
}
