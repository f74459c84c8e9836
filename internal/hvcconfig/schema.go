package hvcconfig

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// sectionDefs maps a section name to its schema definition.
// Sections without an entry are decoded unchecked.
var sectionDefs = map[string]string{
	SectionExtract: "#Extract",
	SectionSelect:  "#Select",
}

// SchemaError reports a section that does not satisfy the schema.
type SchemaError struct {
	Section string
	Detail  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("section %q violates schema:\n%s", e.Section, e.Detail)
}

// The cue.Context is not safe for concurrent use, so validation is serialized.
var (
	schemaMu   sync.Mutex
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaVal  cue.Value
)

func loadSchema() {
	schemaCtx = cuecontext.New()
	schemaVal = schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
}

// checkSchema unifies the decoded section with its definition and requires a
// concrete, error-free result.
func checkSchema(section string, raw map[string]any) error {
	def, ok := sectionDefs[section]
	if !ok {
		return nil
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()
	schemaOnce.Do(loadSchema)

	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	defVal := schemaVal.LookupPath(cue.ParsePath(def))
	if !defVal.Exists() {
		return fmt.Errorf("config schema has no definition %s", def)
	}

	data := schemaCtx.Encode(raw)
	if err := data.Err(); err != nil {
		return &SchemaError{Section: section, Detail: cueerrors.Details(err, nil)}
	}

	if err := defVal.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Section: section, Detail: cueerrors.Details(err, nil)}
	}
	return nil
}
