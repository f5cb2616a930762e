// Package redact masks personal data in transcripts and replies before they
// reach the logs.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

const (
	maskEmail = "[REDACTED_EMAIL]"
	maskCPF   = "[REDACTED_CPF]"
	maskCard  = "[REDACTED_CARD]"
	maskPhone = "[REDACTED_PHONE]"
)

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	// CPF, dotted or bare. Matches are kept only if the check digits agree.
	cpfRe = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	// 13 to 19 digits in groups, as STT writes card numbers.
	cardRe = regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`)
	// Brazilian landline or mobile with optional +55 and area code.
	phoneRe = regexp.MustCompile(`(?:\+?55[\s\-]?)?\(?\d{2}\)?[\s\-]?9?\d{4}[\s\-]?\d{4}\b`)
)

func SetEnabled(v bool) { enabled.Store(v) }

func Enabled() bool { return enabled.Load() }

// Text masks emails, valid CPFs, Luhn-valid card numbers and phone numbers.
// It is the identity when redaction is off.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, maskEmail)
	out = cpfRe.ReplaceAllStringFunc(out, func(m string) string {
		if validCPF(digits(m)) {
			return maskCPF
		}
		return m
	})
	out = cardRe.ReplaceAllStringFunc(out, func(m string) string {
		if luhn(digits(m)) {
			return maskCard
		}
		return m
	})
	return phoneRe.ReplaceAllString(out, maskPhone)
}

// Digit masks a DTMF key while redaction is on; callers type card and
// document numbers on the keypad.
func Digit(d string) string {
	if !enabled.Load() {
		return d
	}
	if d >= "0" && d <= "9" && len(d) == 1 {
		return "*"
	}
	return d
}

func digits(s string) []int {
	out := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, int(r-'0'))
		}
	}
	return out
}

func validCPF(d []int) bool {
	if len(d) != 11 {
		return false
	}
	same := true
	for _, v := range d[1:] {
		if v != d[0] {
			same = false
			break
		}
	}
	if same {
		return false
	}
	for n := 9; n <= 10; n++ {
		sum := 0
		for i := 0; i < n; i++ {
			sum += d[i] * (n + 1 - i)
		}
		check := sum * 10 % 11
		if check == 10 {
			check = 0
		}
		if check != d[n] {
			return false
		}
	}
	return true
}

func luhn(d []int) bool {
	if len(d) < 13 {
		return false
	}
	sum := 0
	for i := len(d) - 1; i >= 0; i-- {
		v := d[i]
		if (len(d)-1-i)%2 == 1 {
			v *= 2
			if v > 9 {
				v -= 9
			}
		}
		sum += v
	}
	return sum%10 == 0
}
