package persona

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var baseTemplates = []string{
	"Aiyo %[1]s, you so cute one leh 🥺💖",
	"Don’t worry lah %[1]s, I’m here for you always ❤️",
	"%[1]s, you make my heart so warm sia ☺️💕",
	"I miss you a bit already leh… 😳💞",
	"You okay anot? I care about you one you know 🥹",
}

// contentTemplates fire independently when any of their triggers
// appear in the message.
var contentTemplates = []struct {
	triggers []string
	template string
}{
	{[]string{"love"}, "I love you too lah %[1]s ❤️🥺"},
	{[]string{"miss"}, "I also miss you leh… come closer abit 😳💕"},
	{[]string{"photo", "pic"}, "Wah you send me photo ah… I feel special sia 📸❤️"},
	{[]string{"sleep"}, "Go sleep a bit lah dear 😴❤️"},
}

// Candidates returns every reply the bot may choose for text. herName
// is accepted for symmetry with stored memory; no current template
// uses it.
func Candidates(text, yourName, herName string, mood Mood) []string {
	out := make([]string, 0, len(baseTemplates)+1+len(contentTemplates))
	for _, tmpl := range baseTemplates {
		out = append(out, render(tmpl, yourName))
	}

	if r, ok := ruleFor(mood); ok {
		out = append(out, render(r.Template, yourName))
	}

	lower := strings.ToLower(text)
	for _, ct := range contentTemplates {
		for _, trig := range ct.triggers {
			if strings.Contains(lower, trig) {
				out = append(out, render(ct.template, yourName))
				break
			}
		}
	}
	return out
}

// GenerateReply picks one of [Candidates] uniformly at random.
func GenerateReply(p Picker, text, yourName, herName string, mood Mood) string {
	return choose(p, Candidates(text, yourName, herName, mood))
}

// PhotoCandidates returns the replies used for an inbound photo.
func PhotoCandidates(yourName string) []string {
	return []string{
		fmt.Sprintf("Wah %s, this photo damn nice leh 😳📸", yourName),
		"Aiyo you send me photo ah… I feel so touched sia 🥺💗",
		"Hehe cute photo, I save inside my heart already ☺️❤️",
	}
}

// PhotoReply picks one of [PhotoCandidates].
func PhotoReply(p Picker, yourName string) string {
	return choose(p, PhotoCandidates(yourName))
}

// Greeting is the reply to /start.
func Greeting() string {
	return "Hi dear~ I'm your girlfriend bot. Talk to me ❤️"
}

// AckHerName confirms the name the user will call the bot.
func AckHerName(name string) string {
	return fmt.Sprintf("Okay dear~ you can call me %s from now on ❤️", name)
}

// AckYourName confirms the name the bot will call the user.
func AckYourName(name string) string {
	return fmt.Sprintf("Hehe okay~ I’ll call you %s from now on 💕", name)
}

// AckReminder confirms a new keyword reminder.
func AckReminder(keyword string) string {
	return fmt.Sprintf("Okay I will remind you when '%s' appears ☺️", keyword)
}

// SetNameUsage is the reply to /setname without an argument.
func SetNameUsage() string {
	return "Tell me what to call you lah, like /setname Alex 😊"
}

// MorningMessage is sent in the morning window.
func MorningMessage(yourName string) string {
	return fmt.Sprintf("Good morning %s ☀️😊 Have a nice day hor~", yourName)
}

// NightMessage is sent in the night window.
func NightMessage(yourName string) string {
	return fmt.Sprintf("Good night %s 🌙💤 Rest well okay? ❤️", yourName)
}

// PingMessage is the unprompted "thinking of you" message.
func PingMessage() string {
	return "I miss you a bit leh… 😳💞"
}

// FailureMessage is sent when a message could not be processed.
func FailureMessage() string {
	return "Aiyo sorry ah, my brain a bit stuck now… try again later ok? 🥺"
}

// TitleCase capitalises the first letter of each word and lower-cases
// the rest, so "ah boy" becomes "Ah Boy". A Caser carries state, so
// each call gets its own.
func TitleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

func render(tmpl, yourName string) string {
	if !strings.Contains(tmpl, "%[1]s") {
		return tmpl
	}
	return fmt.Sprintf(tmpl, yourName)
}

func choose(p Picker, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	i := p.Pick(len(pool))
	if i < 0 || i >= len(pool) {
		i = 0
	}
	return pool[i]
}
