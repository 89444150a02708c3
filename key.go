package convcache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jmgilman/go/errors"
)

// Source is anything with a stable content hash. *bundle.Bundle implements
// it.
type Source interface {
	Hash() (string, error)
}

// Parameter is one named conversion parameter.
type Parameter struct {
	Name  string
	Value any
}

// Parameters is an ordered list of conversion parameters. The order is part
// of the cache key, so callers must build it the same way every time.
type Parameters []Parameter

// ParametersFromMap returns the parameters of m sorted by name.
func ParametersFromMap(m map[string]any) Parameters {
	params := make(Parameters, 0, len(m))
	for name, value := range m {
		params = append(params, Parameter{Name: name, Value: value})
	}
	sort.Slice(params, func(i, j int) bool {
		return params[i].Name < params[j].Name
	})
	return params
}

// With returns a copy of p with name set to value. An existing parameter
// keeps its position; a new one is appended.
func (p Parameters) With(name string, value any) Parameters {
	out := make(Parameters, len(p), len(p)+1)
	copy(out, p)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Parameter{Name: name, Value: value})
}

// Get returns the value of the named parameter.
func (p Parameters) Get(name string) (any, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return nil, false
}

// ComputeKey derives the cache key for converting source with the named
// converter and params:
//
//	<converter>:<content hash>[:<name>:<value>]...
//
// Parameters appear in the order given. Identical inputs always produce the
// same key.
//
// A missing converter name or an empty parameter name fails with
// ErrInvalidKeyInput. A nil source or a hash that cannot be computed fails
// with ErrHashUnavailable; such a request must bypass the cache.
func ComputeKey(converterName string, source Source, params Parameters) (string, error) {
	if converterName == "" {
		return "", errors.Wrap(ErrInvalidKeyInput, errors.CodeInvalidInput, "converter name cannot be empty")
	}
	if source == nil {
		return "", errors.Wrap(ErrHashUnavailable, errors.CodeInvalidInput, "source is nil")
	}

	hash, err := source.Hash()
	if err != nil {
		return "", errors.Wrap(fmt.Errorf("%w: %w", ErrHashUnavailable, err), errors.CodeInvalidInput,
			"failed to compute source hash")
	}
	if hash == "" {
		return "", errors.Wrap(ErrHashUnavailable, errors.CodeInvalidInput, "source hash is empty")
	}

	var sb strings.Builder
	sb.WriteString(converterName)
	sb.WriteByte(':')
	sb.WriteString(hash)
	for _, param := range params {
		if param.Name == "" {
			return "", errors.Wrap(ErrInvalidKeyInput, errors.CodeInvalidInput, "parameter name cannot be empty")
		}
		sb.WriteByte(':')
		sb.WriteString(param.Name)
		sb.WriteByte(':')
		fmt.Fprint(&sb, param.Value)
	}
	return sb.String(), nil
}
