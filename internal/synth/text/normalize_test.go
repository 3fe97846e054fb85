package text_test

import (
	"testing"

	"github.com/book-expert/align-service/internal/synth/text"
)

// normalizerTestCase defines a standard test case for the normalizer.
type normalizerTestCase struct {
	name     string
	input    string
	language string
	expected string
}

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	tests := []normalizerTestCase{
		{name: "empty", input: "", language: "en", expected: ""},
		{name: "punctuation only", input: " ... ", language: "en", expected: ""},
		{name: "plain", input: "Hello   world", language: "en", expected: "Hello world"},
		{name: "abbreviation", input: "Dr. Watson met Mr. Holmes", language: "en", expected: "Doctor Watson met Mister Holmes"},
		{name: "numbers", input: "Chapter 21 has 1005 words", language: "en", expected: "Chapter twenty one has one thousand five words"},
		{name: "references", input: "As shown[12] before¹", language: "en", expected: "As shown before"},
		{name: "smart quotes", input: "“Well,” she said…", language: "en", expected: `"Well," she said...`},
		{name: "newlines", input: "line one\nline\ttwo", language: "en", expected: "line one line two"},
		{name: "non english keeps digits", input: "Kapitel 3", language: "de", expected: "Kapitel 3"},
		{name: "regional english", input: "3 cats", language: "en-GB", expected: "three cats"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := normalizer.Normalize(testCase.input, testCase.language)
			if result != testCase.expected {
				t.Errorf("Expected %q, got %q", testCase.expected, result)
			}
		})
	}
}

func TestIntegerToWords(t *testing.T) {
	t.Parallel()

	tests := map[int]string{
		0:       "zero",
		7:       "seven",
		13:      "thirteen",
		40:      "forty",
		99:      "ninety nine",
		100:     "one hundred",
		342:     "three hundred forty two",
		12000:   "twelve thousand",
		999999:  "nine hundred ninety nine thousand nine hundred ninety nine",
		-4:      "-4",
		1000000: "1000000",
	}

	for number, expected := range tests {
		if result := text.IntegerToWords(number); result != expected {
			t.Errorf("IntegerToWords(%d): expected %q, got %q", number, expected, result)
		}
	}
}
