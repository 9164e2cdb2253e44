// Package qr builds WhatsApp click-to-chat links and renders them as QR
// code PNGs.
package qr

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 512

// MaxSize caps the size a caller may request.
const MaxSize = 2048

// e164 accepts "+" followed by 9 to 15 digits without a leading zero.
var e164 = regexp.MustCompile(`^\+[1-9]\d{8,14}$`)

// ValidPhone reports whether phone is an E.164 number such as +77011234567.
func ValidPhone(phone string) bool {
	return e164.MatchString(phone)
}

// NormalizePhone strips the spaces, dashes, dots and parentheses people
// type into phone fields. It does not validate.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// Link returns the wa.me URL that opens a chat with phone, pre-filled with
// message when it is non-empty:
//
//	Link("+77011234567", "Hi there") == "https://wa.me/77011234567?text=Hi%20there"
func Link(phone, message string) string {
	link := "https://wa.me/" + strings.TrimPrefix(phone, "+")
	if message == "" {
		return link
	}
	// WhatsApp wants a space as %20, not "+". A literal "+" is already %2B
	// after QueryEscape, so the replacement is unambiguous.
	return link + "?text=" + strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
}

// Encode renders content as a PNG QR code with medium error recovery.
// size <= 0 means DefaultSize.
func Encode(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("qr: nothing to encode")
	}
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}

	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qr: encoding: %w", err)
	}
	return png, nil
}
