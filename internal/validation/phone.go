// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidPhoneNumber проверяет корректность номера телефона в формате
// MSISDN: необязательный ведущий плюс и от 10 до 15 цифр.
func IsValidPhoneNumber(number string) bool {
	if number == "" {
		return false
	}

	runes := []rune(number)
	if runes[0] == '+' {
		runes = runes[1:]
	}

	if len(runes) < 10 || len(runes) > 15 {
		return false
	}

	for _, ch := range runes {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return runes[0] != '0'
}
