package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

var permissionPattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_-]+)+$`)

type document struct {
	Roles []Role `yaml:"roles" validate:"required,min=1,dive"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
		return permissionPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

// Load parses a YAML catalog document and builds a Catalog from it.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog: empty document")
		}
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := newValidator().Struct(doc); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, fmt.Errorf("catalog: invalid %s (%s=%v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return nil, fmt.Errorf("catalog: validate: %w", err)
	}
	return New(doc.Roles)
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the built-in hospital catalog.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}
