package subscribers

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	groupNameMin = 2
	groupNameMax = 20
)

// ValidateGroupName accepts 2..20 characters of Cyrillic or Latin letters,
// digits and hyphens. The returned error wraps ErrInvalidGroup and carries a
// user-facing reason.
func ValidateGroupName(name string) error {
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return fmt.Errorf("%w: Название группы не может быть пустым", ErrInvalidGroup)
	case n > groupNameMax:
		return fmt.Errorf("%w: Название группы слишком длинное (макс. %d символов)", ErrInvalidGroup, groupNameMax)
	case n < groupNameMin:
		return fmt.Errorf("%w: Название группы слишком короткое (мин. %d символа)", ErrInvalidGroup, groupNameMin)
	}
	for _, r := range name {
		if !allowedGroupRune(r) {
			return fmt.Errorf("%w: Название группы может содержать только буквы, цифры и дефис", ErrInvalidGroup)
		}
	}
	return nil
}

func allowedGroupRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r == '-':
		return true
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= 'а' && r <= 'я', r >= 'А' && r <= 'Я':
		return true
	}
	return false
}

// NormalizeGroupName trims and uppercases user input.
func NormalizeGroupName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Reason extracts the user-facing part of a validation error.
func Reason(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidGroup.Error()+": ")
}
