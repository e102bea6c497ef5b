package httpx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Float handles JSON values that may be a number, a numeric string, null or
// a placeholder such as "NA".
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = Float(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Float(parseLoose(s))
		return nil
	}
	if string(data) == "null" {
		*f = 0
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// Int is Float for integer fields such as volume.
type Int int64

func (i *Int) UnmarshalJSON(data []byte) error {
	var f Float
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = Int(f)
	return nil
}

// ParseFloat parses a provider numeric string, treating placeholders as 0.
func ParseFloat(s string) float64 {
	return parseLoose(s)
}

func parseLoose(s string) float64 {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "NA", "N/A", "NONE", "NULL", "-":
		return 0
	}
	num, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return num
}
