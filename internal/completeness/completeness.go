// Package completeness scores how filled-in a record is against a list of
// fields, e.g. how complete a candidate profile is.
package completeness

import (
	"math"
	"reflect"
)

// CandidateFields is the default field list for candidate profiles.
var CandidateFields = []string{
	"first_name",
	"last_name",
	"email",
	"phone",
	"location",
	"current_title",
	"summary",
	"skills",
	"experience_years",
	"resume_url",
}

// Result is the outcome of Calculate.
type Result struct {
	Score           int      `json:"score"` // 0..100
	CompletedFields []string `json:"completedFields"`
	MissingFields   []string `json:"missingFields"`
	TotalFields     int      `json:"totalFields"`
}

// Calculate checks every field in fields against entity and returns the
// rounded percentage of filled ones. An empty field list scores 0.
// Duplicate field names are counted each time they appear.
func Calculate(entity map[string]any, fields []string) Result {
	res := Result{
		CompletedFields: []string{},
		MissingFields:   []string{},
		TotalFields:     len(fields),
	}
	for _, f := range fields {
		if Filled(entity[f]) {
			res.CompletedFields = append(res.CompletedFields, f)
		} else {
			res.MissingFields = append(res.MissingFields, f)
		}
	}
	if res.TotalFields == 0 {
		return res
	}
	res.Score = int(math.Round(float64(len(res.CompletedFields)) / float64(res.TotalFields) * 100))
	return res
}

// Filled reports whether v counts as a provided value.
//
// nil, "", false, zero numbers, NaN and empty collections are missing.
// Any non-empty string is filled, whitespace included.
func Filled(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float32:
		return val != 0 && !math.IsNaN(float64(val))
	case float64:
		return val != 0 && !math.IsNaN(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.String:
		return rv.Len() > 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return Filled(rv.Elem().Interface())
	}
	return true
}
