// Package persona holds the bot's voice: the mood classifier and the
// reply templates it speaks with. Everything here is pure except for
// the random choice, which goes through a [Picker].
package persona

import "strings"

// Mood is a detected emotional state.
type Mood string

// Known moods, in detection priority order.
const (
	MoodTired Mood = "tired"
	MoodSad   Mood = "sad"
	MoodAngry Mood = "angry"
	MoodHappy Mood = "happy"
)

type moodRule struct {
	Mood     Mood
	Triggers []string
	// Template is the extra reply candidate offered while this mood is
	// active. %[1]s is the user's name.
	Template string
}

// moodRules is evaluated top to bottom; the first mood with any
// trigger present wins.
var moodRules = []moodRule{
	{
		Mood:     MoodTired,
		Triggers: []string{"tired", "drained", "exhausted", "sleepy"},
		Template: "%[1]s, you must rest more leh… later fall sick how? 😴💗",
	},
	{
		Mood:     MoodSad,
		Triggers: []string{"sad", "depressed", "down", "cry"},
		Template: "Come here lah %[1]s, let me hug you… don’t sad already ok? 🥺🤍",
	},
	{
		Mood:     MoodAngry,
		Triggers: []string{"angry", "pissed", "frustrated", "mad"},
		Template: "Aiyo who make you angry? I go whack them for you lah 😤💢",
	},
	{
		Mood:     MoodHappy,
		Triggers: []string{"happy", "excited", "shiok", "yay"},
		Template: "Wah today you so happy ah %[1]s, I like sia 😄✨",
	},
}

// Moods returns the known moods in detection order.
func Moods() []Mood {
	out := make([]Mood, len(moodRules))
	for i, r := range moodRules {
		out[i] = r.Mood
	}
	return out
}

// DetectMood returns the first mood whose triggers occur in text.
// Matching is case-insensitive substring matching, so "mad" also fires
// inside "made".
func DetectMood(text string) (Mood, bool) {
	lower := strings.ToLower(text)
	for _, r := range moodRules {
		for _, trig := range r.Triggers {
			if strings.Contains(lower, trig) {
				return r.Mood, true
			}
		}
	}
	return "", false
}

// ParseMood converts a stored label back to a Mood. Unknown labels
// report false.
func ParseMood(s string) (Mood, bool) {
	for _, r := range moodRules {
		if string(r.Mood) == s {
			return r.Mood, true
		}
	}
	return "", false
}

func ruleFor(m Mood) (moodRule, bool) {
	for _, r := range moodRules {
		if r.Mood == m {
			return r, true
		}
	}
	return moodRule{}, false
}
