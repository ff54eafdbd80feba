// Package cnae holds the pure CNAE primitives shared by every search path:
// code normalization, the relevance scoring engine, ranking and the keyword prefilter.
//
// CNAE (Classificação Nacional de Atividades Econômicas) subclass codes have 7 digits,
// written "4711-3/01" for display and "4711301" everywhere else.
package cnae

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const codeLen = 7

// NormalizeCode strips every non-digit and right-pads with zeros (or truncates)
// to exactly 7 digits. "4711-3/01" -> "4711301", "01113" -> "0111300".
func NormalizeCode(code string) string {
	var b strings.Builder
	b.Grow(codeLen)
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == codeLen {
				return b.String()
			}
		}
	}
	for b.Len() < codeLen {
		b.WriteByte('0')
	}
	return b.String()
}

// FormatDisplay renders a 7-digit code as "XXXX-X/XX". Anything else is returned as-is.
func FormatDisplay(code string) string {
	if len(code) != codeLen {
		return code
	}
	return code[:4] + "-" + code[4:5] + "/" + code[5:]
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// Fold lowercases s after NFC normalization so composed and decomposed accents compare equal.
func Fold(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}
