// Package metrics computes live typing statistics. All functions are pure and
// operate on rune counts, not byte counts, so multi-byte text (Hangul in
// particular) is measured the same way players perceive it.
package metrics

import (
	"errors"
	"math"
	"time"
)

// WordLength is the fixed character-per-word convention used for WPM.
const WordLength = 5

// ErrInvalidSentence is returned when a target sentence has no characters.
// Sentence validation upstream should make this unreachable.
var ErrInvalidSentence = errors.New("metrics: target sentence is empty")

// Progress returns the completion percentage of the current sentence, capped
// at 100 and rounded to one decimal.
func Progress(inputLen, targetLen int) (float64, error) {
	if targetLen <= 0 {
		return 0, ErrInvalidSentence
	}
	pct := float64(inputLen) / float64(targetLen) * 100
	return round1(math.Min(pct, 100)), nil
}

// WPM returns words per minute from correctly typed characters over the
// elapsed race time. Zero elapsed time yields zero.
func WPM(correctChars int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	minutes := elapsed.Minutes()
	words := float64(correctChars) / WordLength
	return round1(words / minutes)
}

// Accuracy returns the percentage of typed characters that were correct. With
// no input yet it reports 100.
func Accuracy(correctChars, totalChars int) float64 {
	if totalChars == 0 {
		return 100
	}
	return round1(float64(correctChars) / float64(totalChars) * 100)
}

// CountCorrect compares input against target position by position, up to the
// shorter of the two. Trailing target characters the player has not reached
// yet are not penalized.
func CountCorrect(input, target string) int {
	in := []rune(input)
	tgt := []rune(target)
	n := len(in)
	if len(tgt) < n {
		n = len(tgt)
	}
	correct := 0
	for i := 0; i < n; i++ {
		if in[i] == tgt[i] {
			correct++
		}
	}
	return correct
}

// InputLength returns the typed length in characters.
func InputLength(input string) int {
	return len([]rune(input))
}

// KeystrokeCorrect reports whether the most recent keystroke matches the
// target character at the position it was typed into, i.e. the last position
// of the input buffer that already includes the keystroke.
func KeystrokeCorrect(input, target string, ch rune) bool {
	pos := len([]rune(input)) - 1
	tgt := []rune(target)
	if pos < 0 || pos >= len(tgt) {
		return false
	}
	return tgt[pos] == ch
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
