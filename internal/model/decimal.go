package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Decimal is a numeric field the upstream API may serialize either as a JSON
// number or as a quoted string ("85.00").
type Decimal float64

// Float64 returns the value as a float64.
func (d Decimal) Float64() float64 { return float64(d) }

// UnmarshalJSON accepts numbers, numeric strings and null.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*d = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("decimal %q: %w", s, err)
		}
		*d = Decimal(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*d = Decimal(f)
	return nil
}

// MarshalJSON always emits a JSON number.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(d), 'f', -1, 64)), nil
}
