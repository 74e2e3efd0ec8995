package driver

import (
	"errors"
	"reflect"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestTypeConversionError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *TypeConversionError
		expected string
	}{
		{
			name: "with field",
			err: &TypeConversionError{
				Expected: "string",
				Actual:   "int64",
				Field:    "id",
			},
			expected: `type conversion error for field "id": expected string, got int64`,
		},
		{
			name: "without field",
			err: &TypeConversionError{
				Expected: "[]string",
				Actual:   "nil",
			},
			expected: "type conversion error: expected []string, got nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAsStringSlice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  any
		want   []string
		wantOK bool
	}{
		{"string slice", []string{"a", "b"}, []string{"a", "b"}, true},
		{"bolt list", []any{"a", "b"}, []string{"a", "b"}, true},
		{"empty bolt list", []any{}, []string{}, true},
		{"mixed list", []any{"a", int64(1)}, nil, false},
		{"nil", nil, nil, false},
		{"string", "a", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := AsStringSlice(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("AsStringSlice() ok = %v, want %v", ok, tt.wantOK)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AsStringSlice() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMustHelpers(t *testing.T) {
	t.Parallel()

	if s, err := MustString("x", "f"); err != nil || s != "x" {
		t.Errorf("MustString() = %q, %v", s, err)
	}
	_, err := MustString(int64(3), "f")
	var tce *TypeConversionError
	if !errors.As(err, &tce) || tce.Field != "f" || tce.Actual != "int64" {
		t.Errorf("MustString() error = %v", err)
	}

	if i, err := MustInt64(int64(3), "n"); err != nil || i != 3 {
		t.Errorf("MustInt64() = %d, %v", i, err)
	}
	if _, err := MustInt64("3", "n"); err == nil {
		t.Error("MustInt64() expected error for string input")
	}
}

func TestRecordAccessors(t *testing.T) {
	t.Parallel()

	rec := &neo4j.Record{
		Keys:   []string{"id", "uris", "label", "bad"},
		Values: []any{"p1", []any{"u1", "u2"}, nil, int64(9)},
	}

	if id, err := RecordString(rec, "id"); err != nil || id != "p1" {
		t.Errorf("RecordString(id) = %q, %v", id, err)
	}
	if label, err := RecordString(rec, "label"); err != nil || label != "" {
		t.Errorf("RecordString(label) = %q, %v", label, err)
	}
	if missing, err := RecordString(rec, "nope"); err != nil || missing != "" {
		t.Errorf("RecordString(nope) = %q, %v", missing, err)
	}
	if _, err := RecordString(rec, "bad"); err == nil {
		t.Error("RecordString(bad) expected error")
	}

	uris, err := RecordStrings(rec, "uris")
	if err != nil || !reflect.DeepEqual(uris, []string{"u1", "u2"}) {
		t.Errorf("RecordStrings(uris) = %v, %v", uris, err)
	}
	if _, err := RecordStrings(rec, "bad"); err == nil {
		t.Error("RecordStrings(bad) expected error")
	}
}
