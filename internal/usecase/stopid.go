package usecase

import (
	"strconv"
	"strings"

	"busbot/internal/domain"
)

// ExtractStopID reads a stop number out of a user message. Every character
// that is not an ASCII digit is dropped before parsing, so "Stop 5 5 5 4 1 1!"
// yields 555411.
func ExtractStopID(ev domain.InboundEvent) (domain.StopID, error) {
	msg, ok := ev.Payload.(domain.TextMessage)
	if !ok {
		return 0, newError(ErrorNoText, "no_text", nil)
	}

	digits := keepDigits(msg.Text)
	if digits == "" {
		return 0, newError(ErrorNotANumber, "no_digits", nil)
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, newError(ErrorNotANumber, "out_of_range", err)
	}
	if n == 0 {
		return 0, newError(ErrorNotANumber, "zero", nil)
	}
	return domain.StopID(n), nil
}

func keepDigits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
