// Package text prepares fragment text for a speech synthesizer so the synthesized
// reference audio reads the fragment the way a narrator would.
package text

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxNumberForWords is the largest integer spelled out in words.
	MaxNumberForWords = 999999

	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
)

// Regex patterns.
const (
	numberRegexPattern     = `\d+`
	referenceRegexPattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespaceRegexPattern = `\s+`
)

// Normalizer rewrites fragment text before synthesis. It is safe for concurrent use.
type Normalizer struct {
	numberPattern        *regexp.Regexp
	referencePattern     *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewNormalizer compiles the patterns and replacers once.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		numberPattern:     regexp.MustCompile(numberRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		abbreviationReplacer: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Ltd.", "Limited",
			"Inc.", "Incorporated",
		),
		punctuationReplacer: strings.NewReplacer(
			"—", ", ",
			"–", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns the text to synthesize for a fragment. English text also has
// abbreviations expanded and integers spelled out. A fragment with nothing to say
// normalizes to the empty string.
func (n *Normalizer) Normalize(fragment, language string) string {
	out := n.referencePattern.ReplaceAllString(fragment, "")
	out = n.punctuationReplacer.Replace(out)

	if isEnglish(language) {
		out = n.abbreviationReplacer.Replace(out)
		out = n.numberPattern.ReplaceAllStringFunc(out, func(digits string) string {
			number, err := strconv.Atoi(digits)
			if err != nil {
				return digits
			}

			return IntegerToWords(number)
		})
	}

	out = strings.TrimSpace(n.whitespacePattern.ReplaceAllString(out, " "))
	if strings.Trim(out, ` .,;:!?"'()-`) == "" {
		return ""
	}

	return out
}

func isEnglish(language string) bool {
	language = strings.ToLower(language)

	return language == "en" || language == "eng" || strings.HasPrefix(language, "en-")
}

var (
	ones = []string{
		"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
	}
)

// IntegerToWords spells out 0..MaxNumberForWords in English; other values are
// returned as digits.
func IntegerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / numberBaseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
	}

	if rest := number % numberBaseThousand; rest > 0 {
		parts = append(parts, underThousand(rest))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int) string {
	hundreds, rest := number/numberBaseHundred, number%numberBaseHundred

	switch {
	case hundreds == 0:
		return underHundred(rest)
	case rest == 0:
		return ones[hundreds] + " hundred"
	default:
		return ones[hundreds] + " hundred " + underHundred(rest)
	}
}

func underHundred(number int) string {
	switch {
	case number < numberBaseTen:
		return ones[number]
	case number < numberBaseTwenty:
		return teens[number-numberBaseTen]
	case number%numberBaseTen == 0:
		return tens[number/numberBaseTen]
	default:
		return tens[number/numberBaseTen] + " " + ones[number%numberBaseTen]
	}
}
