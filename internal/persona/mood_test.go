package persona

import "testing"

func TestDetectMood(t *testing.T) {
	tests := []struct {
		text   string
		want   Mood
		wantOK bool
	}{
		{"I am so tired and sad", MoodTired, true},
		{"feeling DEPRESSED today", MoodSad, true},
		{"so pissed off", MoodAngry, true},
		{"yay weekend", MoodHappy, true},
		{"I made dinner", MoodAngry, true}, // "mad" inside "made"
		{"hello there", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := DetectMood(tt.text)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("DetectMood(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMoodsOrder(t *testing.T) {
	want := []Mood{MoodTired, MoodSad, MoodAngry, MoodHappy}
	got := Moods()
	if len(got) != len(want) {
		t.Fatalf("Moods() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Moods()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseMood(t *testing.T) {
	if m, ok := ParseMood("sad"); !ok || m != MoodSad {
		t.Errorf("ParseMood(sad) = %q, %v", m, ok)
	}
	if _, ok := ParseMood("bored"); ok {
		t.Error("ParseMood(bored) ok = true, want false")
	}
	if _, ok := ParseMood(""); ok {
		t.Error("ParseMood(\"\") ok = true, want false")
	}
}
