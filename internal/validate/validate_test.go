package validate

import (
	"errors"
	"math"
	"testing"
)

func TestNewControlledVocabulary_RejectsReservedName(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewControlledVocabulary([]Dimension{{Name: "value"}})
	if !errors.Is(err, ErrReservedDimension) {
		t.Fatalf("NewControlledVocabulary() error = %v, want ErrReservedDimension", err)
	}
}

func TestNewControlledVocabulary_RejectsDuplicateName(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewControlledVocabulary([]Dimension{{Name: "variable"}, {Name: "variable"}})
	if !errors.Is(err, ErrDuplicateDimension) {
		t.Fatalf("NewControlledVocabulary() error = %v, want ErrDuplicateDimension", err)
	}
}

func testCV(t *testing.T) *ControlledVocabulary {
	t.Helper()

	cv, err := NewControlledVocabulary([]Dimension{
		{Name: "variable", Values: []string{"tas", "pr"}},
		{Name: "region", AllowExtraValues: true},
	})
	if err != nil {
		t.Fatalf("NewControlledVocabulary() error = %v", err)
	}

	return cv
}

func TestValidate_UnknownDimension(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cv := testCV(t)

	bundle := MetricBundle{
		"global_mean": ScalarValue{Value: 1.0, Dimensions: map[string]string{"model": "modelA"}},
	}

	err := cv.Validate(bundle)
	if !errors.Is(err, ErrUnknownDimension) {
		t.Fatalf("Validate() error = %v, want ErrUnknownDimension", err)
	}
}

func TestValidate_UnknownValue(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cv := testCV(t)

	bundle := MetricBundle{
		"global_mean": ScalarValue{Value: 1.0, Dimensions: map[string]string{"variable": "unknown-var"}},
	}

	err := cv.Validate(bundle)
	if !errors.Is(err, ErrUnknownValue) {
		t.Fatalf("Validate() error = %v, want ErrUnknownValue", err)
	}
}

func TestValidate_AllowExtraValues(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cv := testCV(t)

	bundle := MetricBundle{
		"global_mean": ScalarValue{Value: 1.0, Dimensions: map[string]string{"region": "anything-goes"}},
	}

	if err := cv.Validate(bundle); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_NonNumericScalar(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cv := testCV(t)

	bundle := MetricBundle{
		"global_mean": ScalarValue{Value: math.NaN(), Dimensions: map[string]string{"variable": "tas"}},
	}

	err := cv.Validate(bundle)
	if !errors.Is(err, ErrNonNumericValue) {
		t.Fatalf("Validate() error = %v, want ErrNonNumericValue", err)
	}
}

func TestValidate_SeriesLengthMismatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cv := testCV(t)

	bundle := MetricBundle{
		"timeseries": SeriesValue{
			Index:      []float64{1, 2, 3},
			Values:     []float64{1, 2},
			Dimensions: map[string]string{"variable": "tas"},
		},
	}

	err := cv.Validate(bundle)
	if !errors.Is(err, ErrSeriesIndexInvalid) {
		t.Fatalf("Validate() error = %v, want ErrSeriesIndexInvalid", err)
	}
}

func TestValidate_SeriesNaNIndex(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cv := testCV(t)

	bundle := MetricBundle{
		"timeseries": SeriesValue{
			Index:      []float64{1, math.NaN()},
			Values:     []float64{1, 2},
			Dimensions: map[string]string{"variable": "tas"},
		},
	}

	err := cv.Validate(bundle)
	if !errors.Is(err, ErrSeriesIndexInvalid) {
		t.Fatalf("Validate() error = %v, want ErrSeriesIndexInvalid", err)
	}
}

func TestValidate_NestedBundle(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cv := testCV(t)

	bundle := MetricBundle{
		"group": MetricBundle{
			"global_mean": ScalarValue{Value: 1.0, Dimensions: map[string]string{"variable": "tas"}},
		},
	}

	if err := cv.Validate(bundle); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}
