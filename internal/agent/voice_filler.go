package agent

import "time"

// voiceFillerPhrases are spoken while a tool call is in flight so a voice
// client doesn't sit in silence during a slow lookup.
var voiceFillerPhrases = []string{
	"One moment.",
	"Still working on that.",
	"Almost there.",
}

var voiceFillerDelays = []time.Duration{
	900 * time.Millisecond,
	4200 * time.Millisecond,
	8000 * time.Millisecond,
}

// startProgressFiller schedules voiceFillerPhrases on voiceFillerDelays and
// returns a cancel func to call the instant the tool call returns.
func startProgressFiller(onStream func(string)) (cancel func()) {
	timers := make([]*time.Timer, 0, len(voiceFillerDelays))
	for i, delay := range voiceFillerDelays {
		phrase := voiceFillerPhrases[i]
		timers = append(timers, time.AfterFunc(delay, func() {
			if onStream != nil {
				onStream(phrase)
			}
		}))
	}
	return func() {
		for _, t := range timers {
			t.Stop()
		}
	}
}
