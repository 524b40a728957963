package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed profile.cue
var profileSchema string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		val := schemaCtx.CompileString(profileSchema, cue.Filename("profile.cue"))
		if err := val.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to compile profile schema: %w", err)
			return
		}
		schemaDef = val.LookupPath(cue.ParsePath("#Profile"))
		if err := schemaDef.Err(); err != nil {
			schemaErr = fmt.Errorf("profile schema has no #Profile: %w", err)
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// ValidateSchema unifies the profile with the embedded CUE schema.
func ValidateSchema(p *Profile) error {
	ctx, schema, err := loadSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	val := ctx.CompileBytes(data, cue.Filename("profile.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Details: cueerrors.Details(err, nil), Err: err}
	}
	return nil
}

// SchemaError reports a profile that does not satisfy the schema.
type SchemaError struct {
	Details string
	Err     error
}

func (e *SchemaError) Error() string {
	return "profile does not match schema: " + e.Details
}

func (e *SchemaError) Unwrap() error { return e.Err }
