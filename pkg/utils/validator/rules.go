package validator

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Custom validation tags
const (
	TagLanguage = "kblang"     // supported content language (en|ta)
	TagCategory = "kbcategory" // category name usable as an index key
	TagTrimmed  = "trimmed"    // no leading/trailing whitespace
)

// MaxCategoryLen bounds category names in runes.
const MaxCategoryLen = 64

func (v *Validator) registerCustomRules() {
	_ = v.validate.RegisterValidation(TagLanguage, validateLanguage)
	_ = v.validate.RegisterValidation(TagCategory, validateCategory)
	_ = v.validate.RegisterValidation(TagTrimmed, validateTrimmed)
}

func validateLanguage(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return value == LangEN || value == LangTA
}

// IsValidCategory reports whether name can be used as a category: trimmed,
// 1..MaxCategoryLen runes of letters, marks, digits, spaces, '-', '_', '&'.
// Marks are needed for Tamil vowel signs.
func IsValidCategory(name string) bool {
	if name == "" || strings.TrimSpace(name) != name {
		return false
	}
	if utf8.RuneCountInString(name) > MaxCategoryLen {
		return false
	}
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
		case r == ' ', r == '-', r == '_', r == '&':
		default:
			return false
		}
	}
	return true
}

func validateCategory(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return IsValidCategory(value)
}

func validateTrimmed(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return strings.TrimSpace(value) == value
}
