package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// FeatureValue is a sealed interface over the values a feature can hold.
// Only FeatureInt, FeatureBool and FeatureRaw implement it.
type FeatureValue interface {
	featureValue()
}

// FeatureInt is an integer feature. Always int64, never float64.
type FeatureInt int64

func (FeatureInt) featureValue() {}

// FeatureBool is a boolean feature.
type FeatureBool bool

func (FeatureBool) featureValue() {}

// FeatureRaw preserves a value outside the int/bool schema verbatim.
type FeatureRaw json.RawMessage

func (FeatureRaw) featureValue() {}

// KnownFeatures lists the feature keys the pipeline interprets.
// Any other key is carried through untouched.
var KnownFeatures = []string{
	"numIVUsers",
	"isLoopSimplifyForm",
	"isEmpty",
	"numIntToFloatCast",
	"hasLoopPreheader",
	"numTermBrBlocks",
	"latchBlockTermOpcode",
	"tripCount",
	"numCalls",
}

// FeatureSet maps feature names to values.
// Use SortedKeys() for deterministic iteration.
type FeatureSet map[string]FeatureValue

// SortedKeys returns the feature names in canonical order.
func (fs FeatureSet) SortedKeys() []string {
	keys := make([]string, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Int returns the named feature as an integer.
func (fs FeatureSet) Int(name string) (int64, bool) {
	v, ok := fs[name].(FeatureInt)
	return int64(v), ok
}

// Bool returns the named feature as a boolean.
func (fs FeatureSet) Bool(name string) (bool, bool) {
	v, ok := fs[name].(FeatureBool)
	return bool(v), ok
}

// Known reports whether name is part of the interpreted schema.
func Known(name string) bool {
	return slices.Contains(KnownFeatures, name)
}

// UnmarshalJSON implements json.Unmarshaler for FeatureSet.
// Integers go through json.Number so values above 2^53 keep precision.
func (fs *FeatureSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*fs = make(FeatureSet, len(raw))
	for k, v := range raw {
		val, err := unmarshalFeatureValue(v)
		if err != nil {
			return fmt.Errorf("feature %q: %w", k, err)
		}
		(*fs)[k] = val
	}
	return nil
}

// MarshalJSON implements json.Marshaler using the canonical encoding.
func (fs FeatureSet) MarshalJSON() ([]byte, error) {
	if fs == nil {
		return []byte("{}"), nil
	}
	return MarshalCanonical(fs)
}

func unmarshalFeatureValue(data []byte) (FeatureValue, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return FeatureBool(b), nil

	case '"', 'n', '[', '{':
		return compactRaw(data)

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		if i, err := n.Int64(); err == nil {
			return FeatureInt(i), nil
		}
		// Floats and out-of-range integers are kept as written.
		return compactRaw(data)
	}
}

func compactRaw(data []byte) (FeatureRaw, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, err
	}
	return FeatureRaw(buf.Bytes()), nil
}
