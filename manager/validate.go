package manager

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// rules bundles the validator with its English translator.
type rules struct {
	v  *validator.Validate
	tr ut.Translator
}

var loadRules = sync.OnceValue(func() *rules {
	v := validator.New(validator.WithRequiredStructEnabled())

	tr, ok := ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("manager: no en translator")
	}
	if err := en_translations.RegisterDefaultTranslations(v, tr); err != nil {
		panic(err)
	}

	// Report fields by their yaml key, the name users write in config files.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &rules{v: v, tr: tr}
})

// ConfigError lists the translated problem of every invalid config field,
// keyed by yaml field name.
type ConfigError map[string]string

func (ce ConfigError) Error() string {
	fields := make([]string, 0, len(ce))
	for f := range ce {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ce[f])
	}
	return b.String()
}

// check validates the struct tags of val.
func check(val any) error {
	r := loadRules()

	err := r.v.Struct(val)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	ce := make(ConfigError, len(verrs))
	for _, fe := range verrs {
		ce[fe.Field()] = fe.Translate(r.tr)
	}
	return ce
}

// validURL reports whether raw is an absolute http or https URL.
func validURL(raw string) bool {
	return loadRules().v.Var(raw, "required,http_url") == nil
}
