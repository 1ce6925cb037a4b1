package services

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/models"
)

// Validator checks records against their struct tags and the domain rules
// tags cannot express.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator builds a Validator that reports fields by their JSON names.
func NewValidator() *Validator {
	v := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, translator)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(progressStructValidation, models.Progress{})

	return &Validator{validate: v, translator: translator}
}

// Struct validates v and returns a VALIDATION_ERROR listing every failed
// field, or nil.
func (v *Validator) Struct(what string, record interface{}) error {
	err := v.validate.Struct(record)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(errors.ErrValidation, "validate "+what, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Translate(v.translator))
	}
	sort.Strings(msgs)
	return errors.New(errors.ErrValidation, fmt.Sprintf("invalid %s: %s", what, strings.Join(msgs, "; ")))
}

func progressStructValidation(sl validator.StructLevel) {
	p, ok := sl.Current().Interface().(models.Progress)
	if !ok {
		return
	}
	if err := p.CheckData(); err != nil {
		sl.ReportError(p.Data, "data", "Data", "progress_data", err.Error())
	}
}

// checkMarks rejects marks no score may carry.
func checkMarks(obtained, max float64) error {
	if max <= 0 {
		return errors.Newf(errors.ErrValidation, "maxMarks must be greater than 0, got %v", max)
	}
	if obtained < 0 || obtained > max {
		return errors.Newf(errors.ErrValidation, "obtainedMarks must be between 0 and %v, got %v", max, obtained)
	}
	return nil
}
