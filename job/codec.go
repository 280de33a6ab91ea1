package job

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// codec is std-compatible so payloads round-trip with encoding/json users.
var codec = sonic.ConfigStd

// Encode serializes v as a JSON payload or result. Raw JSON passes through.
func Encode(v any) (json.RawMessage, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return json.RawMessage(b), nil
	}
	out, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("job: encode %T: %w", v, err)
	}
	return out, nil
}

// Decode deserializes JSON data into v. Empty data leaves v untouched.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("job: decode into %T: %w", v, err)
	}
	return nil
}
