// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ограничения на длину текстовых полей.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MaxNotesLength       = 2000
	MaxFilenameLength    = 255
)

// IsValidID проверяет, что строка является UUID.
func IsValidID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// IsValidRating проверяет, что оценка лежит в диапазоне 1..5.
func IsValidRating(r int) bool {
	return r >= 1 && r <= 5
}

// IsValidAmount проверяет, что сумма положительна и содержит не больше двух знаков после запятой.
func IsValidAmount(d decimal.Decimal) bool {
	if !d.IsPositive() {
		return false
	}
	return d.Equal(d.Truncate(2))
}

// IsValidText проверяет, что текст непустой после обрезки пробелов и не длиннее maxLen символов.
func IsValidText(s string, maxLen int) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return utf8.RuneCountInString(s) <= maxLen
}

// IsValidOptionalText проверяет только ограничение длины.
func IsValidOptionalText(s string, maxLen int) bool {
	return utf8.RuneCountInString(s) <= maxLen
}

// IsValidFilename отклоняет пустые имена и имена с разделителями пути.
func IsValidFilename(name string) bool {
	if !IsValidText(name, MaxFilenameLength) {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
