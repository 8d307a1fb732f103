package library

// validator accumulates field-level problems and turns them into a
// *ValidationError. The first failure recorded for a field wins.
type validator struct {
	errors map[string]string
}

func newValidator() *validator {
	return &validator{errors: make(map[string]string)}
}

func (v *validator) check(ok bool, field, message string) {
	if ok {
		return
	}
	if _, exists := v.errors[field]; !exists {
		v.errors[field] = message
	}
}

// err returns nil when every check passed.
func (v *validator) err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.errors}
}
