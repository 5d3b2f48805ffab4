package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxPathLength          = 500
	MaxKeyLength           = 256
	MaxErrorMessageLength  = 1000
	MaxGeneralStringLength = 2000
)

// SanitizePath limpa um path de URL antes de ir para o log.
func SanitizePath(path string) string {
	return SanitizeString(path, MaxPathLength)
}

// SanitizeKey limpa uma chave de cliente (ip:..., user:..., header livre).
func SanitizeKey(key string) string {
	return SanitizeString(key, MaxKeyLength)
}

func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error(), MaxErrorMessageLength)
}

// SanitizeString remove caracteres de controle (inclusive quebras de linha, que
// permitiriam forjar linhas no log) e trunca em maxLength bytes.
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	s = b.String()

	if len(s) > maxLength {
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
