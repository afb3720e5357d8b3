package validator

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

func (v *Validator) registerTranslations() {
	english := map[string]string{
		TagLanguage: "{0} must be one of the supported languages: en, ta",
		TagCategory: "{0} must be a valid category name",
		TagTrimmed:  "{0} must not have leading or trailing spaces",
	}
	for tag, msg := range english {
		registerTranslation(v.validate, v.trans[LangEN], tag, msg, false)
	}

	tamil := map[string]string{
		"required":  "{0} புலம் அவசியம்",
		"oneof":     "{0} பின்வருவனவற்றில் ஒன்றாக இருக்க வேண்டும்: {1}",
		"max":       "{0} அதிகபட்சம் {1} ஆக இருக்க வேண்டும்",
		"min":       "{0} குறைந்தபட்சம் {1} ஆக இருக்க வேண்டும்",
		"gte":       "{0} {1} அல்லது அதற்கு மேல் இருக்க வேண்டும்",
		"lte":       "{0} {1} அல்லது அதற்கு குறைவாக இருக்க வேண்டும்",
		"url":       "{0} சரியான URL ஆக இருக்க வேண்டும்",
		TagLanguage: "{0} ஆதரிக்கப்படும் மொழிகளில் ஒன்றாக இருக்க வேண்டும்: en, ta",
		TagCategory: "{0} சரியான வகைப் பெயராக இருக்க வேண்டும்",
		TagTrimmed:  "{0} முன்னும் பின்னும் இடைவெளி இருக்கக் கூடாது",
	}
	for tag, msg := range tamil {
		registerTranslation(v.validate, v.trans[LangTA], tag, msg, true)
	}
}

// registerTranslation registers a single translation. withParam passes the
// rule parameter as {1}.
func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string, withParam bool) {
	_ = validate.RegisterTranslation(tag, trans,
		func(t ut.Translator) error {
			return t.Add(tag, message, true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			var (
				msg string
				err error
			)
			if withParam {
				msg, err = t.T(tag, fe.Field(), fe.Param())
			} else {
				msg, err = t.T(tag, fe.Field())
			}
			if err != nil {
				return fe.Error()
			}
			return msg
		},
	)
}
