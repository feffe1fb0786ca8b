package subgraph

import (
	"bytes"
	"fmt"
	"strconv"
)

// Graph nodes serialize Int fields as JSON numbers and BigInt fields as
// strings. These decode either form.

type uintValue uint64

func (v *uintValue) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = 0
		return nil
	}
	parsed, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned value %q: %w", data, err)
	}
	*v = uintValue(parsed)
	return nil
}

type intValue int64

func (v *intValue) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = 0
		return nil
	}
	parsed, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signed value %q: %w", data, err)
	}
	*v = intValue(parsed)
	return nil
}
