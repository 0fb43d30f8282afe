// Package validate implements the Result Validator: checking a diagnostic's
// output metric bundle against a controlled vocabulary.
package validate

import "errors"

// ReservedDimensionNames are names a CV dimension may never use; they
// collide with the bundle serialization format's own fields.
var ReservedDimensionNames = map[string]struct{}{
	"attributes":     {},
	"json_structure": {},
	"created_at":     {},
	"updated_at":     {},
	"value":          {},
	"id":             {},
}

// Sentinel errors returned by ControlledVocabulary.Validate, checked with
// errors.Is by callers.
var (
	// ErrDuplicateDimension indicates two dimensions share a name.
	ErrDuplicateDimension = errors.New("duplicate dimension name")

	// ErrReservedDimension indicates a dimension uses a reserved name.
	ErrReservedDimension = errors.New("reserved dimension name")

	// ErrUnknownDimension indicates a metric bundle leaf referenced a
	// dimension absent from the CV.
	ErrUnknownDimension = errors.New("unknown dimension")

	// ErrUnknownValue indicates a dimension value fell outside its
	// enumerated set and the dimension does not allow extra values.
	ErrUnknownValue = errors.New("unknown dimension value")

	// ErrNonNumericValue indicates a metric bundle leaf's scalar value was
	// not numeric (NaN/Inf are treated as non-numeric here).
	ErrNonNumericValue = errors.New("non-numeric metric value")

	// ErrSeriesIndexInvalid indicates a series value's index/values length
	// mismatched, or an index entry was NaN/Inf.
	ErrSeriesIndexInvalid = errors.New("invalid series index")
)

type (
	// Dimension describes one controlled-vocabulary dimension: a name,
	// whether extra (non-enumerated) values are allowed, and an optional
	// enumerated value set.
	Dimension struct {
		Name             string
		AllowExtraValues bool
		Values           []string
	}

	// ControlledVocabulary is a set of dimensions used to validate metric
	// bundles.
	ControlledVocabulary struct {
		Dimensions []Dimension

		byName map[string]Dimension
	}
)

// NewControlledVocabulary validates dimension names (unique, not reserved)
// and builds a CV ready for Validate calls.
func NewControlledVocabulary(dimensions []Dimension) (*ControlledVocabulary, error) {
	byName := make(map[string]Dimension, len(dimensions))

	for _, dim := range dimensions {
		if _, reserved := ReservedDimensionNames[dim.Name]; reserved {
			return nil, errorWithName(ErrReservedDimension, dim.Name)
		}

		if _, dup := byName[dim.Name]; dup {
			return nil, errorWithName(ErrDuplicateDimension, dim.Name)
		}

		byName[dim.Name] = dim
	}

	return &ControlledVocabulary{Dimensions: dimensions, byName: byName}, nil
}

// Dimension looks up a dimension by name.
func (cv *ControlledVocabulary) Dimension(name string) (Dimension, bool) {
	d, ok := cv.byName[name]
	return d, ok
}

// allows reports whether value is permitted for dimension d: either d
// enumerates no values (anything goes), value is in the enumerated set, or
// d.AllowExtraValues is set.
func (d Dimension) allows(value string) bool {
	if d.AllowExtraValues {
		return true
	}

	if len(d.Values) == 0 {
		return true
	}

	for _, v := range d.Values {
		if v == value {
			return true
		}
	}

	return false
}

func errorWithName(sentinel error, name string) error {
	return &dimensionError{sentinel: sentinel, name: name}
}

type dimensionError struct {
	sentinel error
	name     string
}

func (e *dimensionError) Error() string {
	return e.sentinel.Error() + ": " + e.name
}

func (e *dimensionError) Unwrap() error {
	return e.sentinel
}
