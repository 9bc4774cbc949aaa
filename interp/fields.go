package interp

// scopes builds the interpolation scopes for this step's run.
func (sc *StepCtx) scopes() Scopes {
	return Scopes{Env: sc.RunCtx.Env, Vars: sc.RunCtx.Vars}
}

// Str decodes a string field and interpolates it. ok is false if the
// field was absent. In strict-vars mode (TestDefinition.strict_vars) an
// undefined $env/$vars reference in the field's value is a StepValidation
// error instead of expanding to "".
func (sc *StepCtx) Str(field string) (string, bool, error) {
	var v string
	ok, err := sc.Step.Field(field, &v)
	if err != nil || !ok {
		return "", ok, err
	}
	var undefined []UndefinedRef
	var collect *[]UndefinedRef
	if sc.RunCtx.StrictVars {
		collect = &undefined
	}
	out := Interpolate(v, sc.scopes(), collect)
	if len(undefined) > 0 {
		return "", true, NewStepError(KindStepValidation, "undefined reference $%s.%s in field %q", undefined[0].Scope, undefined[0].Name, field)
	}
	return out, true, nil
}

// InterpolateStrict interpolates an already-decoded string (e.g. `if`,
// `loop.over`), honoring strict-vars mode the same way Str does.
func (sc *StepCtx) InterpolateStrict(s string) (string, *StepError) {
	var undefined []UndefinedRef
	var collect *[]UndefinedRef
	if sc.RunCtx.StrictVars {
		collect = &undefined
	}
	out := Interpolate(s, sc.scopes(), collect)
	if len(undefined) > 0 {
		return "", NewStepError(KindStepValidation, "undefined reference $%s.%s", undefined[0].Scope, undefined[0].Name)
	}
	return out, nil
}

// StrDefault is Str with a fallback when the field is absent.
func (sc *StepCtx) StrDefault(field, def string) (string, error) {
	v, ok, err := sc.Str(field)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Bool decodes a boolean field.
func (sc *StepCtx) Bool(field string) (bool, bool, error) {
	var v bool
	ok, err := sc.Step.Field(field, &v)
	return v, ok, err
}

// Int64 decodes an integer field.
func (sc *StepCtx) Int64(field string) (int64, bool, error) {
	var v int64
	ok, err := sc.Step.Field(field, &v)
	return v, ok, err
}

// Raw decodes a field into dst verbatim (no interpolation, no
// stringification) — used for structured sub-objects like `retry` or
// `fields`.
func (sc *StepCtx) Raw(field string, dst interface{}) (bool, error) {
	return sc.Step.Field(field, dst)
}

// StrSlice decodes a []string field and interpolates each element.
func (sc *StepCtx) StrSlice(field string) ([]string, bool, error) {
	var v []string
	ok, err := sc.Step.Field(field, &v)
	if err != nil || !ok {
		return nil, ok, err
	}
	scopes := sc.scopes()
	out := make([]string, len(v))
	for i, s := range v {
		out[i] = Interpolate(s, scopes, nil)
	}
	return out, true, nil
}

func fail(kind Kind, format string, args ...interface{}) Outcome {
	return Outcome{Success: false, Err: NewStepError(kind, format, args...)}
}

func succeed(value interface{}) Outcome {
	return Outcome{Success: true, Value: value}
}
