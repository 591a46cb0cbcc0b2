package validation

import (
	"fmt"
	"regexp"
)

// IDPattern определяет допустимый формат идентификаторов документов и пользователей.
// Латинские буквы, цифры и символы _ - . : (UUID проходит), первый символ - буква или цифра.
var IDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]*$`)

// MaxIDLen максимальная длина идентификатора
const MaxIDLen = 128

// ValidateID проверяет идентификатор; what называет его в тексте ошибки
func ValidateID(what, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}

	if len(id) > MaxIDLen {
		return fmt.Errorf("%s must not exceed %d characters", what, MaxIDLen)
	}

	if !IDPattern.MatchString(id) {
		return fmt.Errorf("%s can only contain letters, numbers and _ - . : characters", what)
	}

	return nil
}
