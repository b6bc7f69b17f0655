package policy

import "testing"

func TestLooksDirective(t *testing.T) {
	directive := []string{
		"You must call someone right now.",
		"Call 988 immediately.",
		"Please try to breathe slowly.",
		"Don't do anything rash.",
		"It helps to rest. Take a walk.",
	}
	for _, text := range directive {
		if !LooksDirective(text) {
			t.Fatalf("LooksDirective(%q) = false, want true", text)
		}
	}

	plain := []string{
		"",
		"Support is available right now.",
		"The 988 Suicide & Crisis Lifeline can be reached by call or text at 988.",
		"It sounds like things have been heavy lately.",
	}
	for _, text := range plain {
		if LooksDirective(text) {
			t.Fatalf("LooksDirective(%q) = true, want false", text)
		}
	}
}
