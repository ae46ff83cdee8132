package tonal

import (
	"errors"
	"fmt"
	"math"
)

// ReferenceA4 is the concert pitch all notes are tuned against
const ReferenceA4 = 440.0

const midiA4 = 69

// ErrNonPositiveFrequency is returned when mapping a frequency that is not
// a detected pitch.
var ErrNonPositiveFrequency = errors.New("frequency must be positive and finite")

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Note is the nearest equal-tempered note to a frequency
type Note struct {
	Name   string  `json:"name"`   // C, C#, D, ... B
	Octave int     `json:"octave"` // Scientific pitch notation, A4 = 440 Hz
	Cents  float64 `json:"cents"`  // Deviation from the note, in [-50, 50]

	midi int
}

// String renders the note as name and octave, e.g. "A4"
func (n Note) String() string {
	return fmt.Sprintf("%s%d", n.Name, n.Octave)
}

// ReferenceFrequency returns the equal-tempered frequency of the note
func (n Note) ReferenceFrequency() float64 {
	return ReferenceA4 * math.Pow(2, float64(n.midi-midiA4)/12)
}

// ToNote maps a frequency to the nearest equal-tempered note and its
// signed cents offset. An offset of exactly half a semitone belongs to
// the note above, so offsets fall in [-50, 50).
func ToNote(frequencyHz float64) (Note, error) {
	if !(frequencyHz > 0) || math.IsInf(frequencyHz, 1) {
		return Note{}, fmt.Errorf("%w: %v", ErrNonPositiveFrequency, frequencyHz)
	}

	semitones := 12 * math.Log2(frequencyHz/ReferenceA4)
	nearest := math.Floor(semitones + 0.5)
	cents := 100 * (semitones - nearest)

	midi := midiA4 + int(nearest)
	return Note{
		Name:   noteNames[mod(midi, 12)],
		Octave: floorDiv(midi, 12) - 1,
		Cents:  math.Max(-50, math.Min(50, cents)),
		midi:   midi,
	}, nil
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
