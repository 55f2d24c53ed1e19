package engine

import (
	"errors"
	"fmt"
)

// Machine-readable error codes surfaced to API callers.
const (
	CodeEmptyContent        = "empty_content"
	CodeUnsupportedLanguage = "unsupported_language"
	CodeEmptyProfileSet     = "empty_profile_set"
	CodeNoChannels          = "no_channels"
	CodeLexiconNotLoaded    = "lexicon_not_loaded"
	CodeProfilesNotLoaded   = "profiles_not_loaded"
	CodeNoScheduler         = "scheduling_unavailable"
)

// InputError is the caller's fault: bad or unsupported request data.
// Never retried, never cached.
type InputError struct {
	Code string
	Err  error
}

func (e *InputError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// ConfigurationError means the engine itself is not in a servable state
// (no lexicons, no profiles). Fatal to the request, not the process.
type ConfigurationError struct {
	Code string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func inputErr(code string, err error) error  { return &InputError{Code: code, Err: err} }
func configErr(code string, err error) error { return &ConfigurationError{Code: code, Err: err} }

// AsInputError extracts an InputError from a wrapped chain.
func AsInputError(err error) (*InputError, bool) {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// AsConfigurationError extracts a ConfigurationError from a wrapped chain.
func AsConfigurationError(err error) (*ConfigurationError, bool) {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
