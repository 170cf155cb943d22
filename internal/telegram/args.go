package telegram

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/usdt-tracker/internal/storage"
)

const (
	maxLabelLen       = 32
	maxDescriptionLen = 200
)

var (
	addrRegex = regexp.MustCompile(`T[1-9A-HJ-NP-Za-km-z]{33}`)

	errEmptyLabel = errors.New("empty label")
	errLongLabel  = errors.New("label too long")
)

// parseCommand splits "/pay@SomeBot 10 coffee" into ("pay", "10 coffee", true)
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// extractAddress finds a Tron address in free text, e.g. a pasted Tronscan link
func extractAddress(text string) string {
	return addrRegex.FindString(text)
}

// parseWalletArgs splits "/wallet" arguments into an address and an optional label
func parseWalletArgs(args string) (address, label string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// parsePayArgs reads "<amount> [description]"
func parsePayArgs(args string) (decimal.Decimal, string, error) {
	amountStr, description, _ := strings.Cut(strings.TrimSpace(args), " ")
	if amountStr == "" {
		return decimal.Zero, "", storage.ErrInvalidAmount
	}

	amount, err := storage.ParseAmount(amountStr)
	if err != nil {
		return decimal.Zero, "", err
	}

	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		description = string([]rune(description)[:maxDescriptionLen])
	}
	return amount, description, nil
}

func validateLabel(label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return errEmptyLabel
	}
	if utf8.RuneCountInString(label) > maxLabelLen {
		return errLongLabel
	}
	return nil
}
