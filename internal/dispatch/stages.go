package dispatch

import (
	"context"
	"regexp"
	"strings"

	"github.com/nugget/sayang/internal/persona"
	"github.com/nugget/sayang/internal/store"
)

var (
	callYouRe  = regexp.MustCompile(`(?i)call you (.+)`)
	callMeRe   = regexp.MustCompile(`(?i)call me (.+)`)
	remindMeRe = regexp.MustCompile(`(?i)remind me when (.+?) => (.+)`)
)

func (d *Dispatcher) renameAgent(ctx context.Context, chatID int64, text string) (string, bool, error) {
	m := callYouRe.FindStringSubmatch(text)
	if m == nil {
		return "", false, nil
	}
	name, err := cleanName(m[1])
	if err != nil {
		return "", false, err
	}
	if err := d.store.UpsertMemory(ctx, chatID, store.MemoryUpdate{HerName: name}); err != nil {
		return "", false, err
	}
	return persona.AckHerName(name), true, nil
}

func (d *Dispatcher) renameSelf(ctx context.Context, chatID int64, text string) (string, bool, error) {
	m := callMeRe.FindStringSubmatch(text)
	if m == nil {
		return "", false, nil
	}
	name, err := cleanName(m[1])
	if err != nil {
		return "", false, err
	}
	if err := d.store.UpsertMemory(ctx, chatID, store.MemoryUpdate{YourName: name}); err != nil {
		return "", false, err
	}
	return persona.AckYourName(name), true, nil
}

func (d *Dispatcher) createReminder(ctx context.Context, chatID int64, text string) (string, bool, error) {
	m := remindMeRe.FindStringSubmatch(text)
	if m == nil {
		return "", false, nil
	}
	keyword := strings.ToLower(strings.TrimSpace(m[1]))
	message := strings.TrimSpace(m[2])
	if keyword == "" {
		return "", false, &ValidationError{Field: "keyword", Reason: "empty"}
	}
	if message == "" {
		return "", false, &ValidationError{Field: "message", Reason: "empty"}
	}
	if _, err := d.store.AddReminder(ctx, chatID, keyword, message); err != nil {
		return "", false, err
	}
	return persona.AckReminder(keyword), true, nil
}

func (d *Dispatcher) keywordReminder(ctx context.Context, chatID int64, text string) (string, bool, error) {
	msg, ok, err := d.store.FindReminderReply(ctx, chatID, text)
	if err != nil || !ok {
		return "", false, err
	}
	return msg, true, nil
}

// moodReply always matches. It records the detected mood (creating the
// memory row on a first message) and answers in the voice of whichever
// mood is current, detected or stored.
func (d *Dispatcher) moodReply(ctx context.Context, chatID int64, text string) (string, bool, error) {
	mem, err := d.store.GetMemory(ctx, chatID)
	if err != nil {
		return "", false, err
	}

	detected, _ := persona.DetectMood(text)
	if err := d.store.UpsertMemory(ctx, chatID, store.MemoryUpdate{Mood: string(detected)}); err != nil {
		return "", false, err
	}

	mood := detected
	if mood == "" {
		mood, _ = persona.ParseMood(mem.StoredMood())
	}

	reply := persona.GenerateReply(d.picker, text,
		mem.YourNameOrDefault(), mem.HerNameOrDefault(), mood)
	return reply, true, nil
}

// cleanName trims and title-cases a captured name.
func cleanName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", &ValidationError{Field: "name", Reason: "empty"}
	}
	return persona.TitleCase(name), nil
}
