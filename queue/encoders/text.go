package encoders

import (
	"fmt"

	"github.com/pkg/errors"
)

type Text struct{}

// Encode accepts strings, byte slices and fmt.Stringer values.
func (t Text) Encode(v any) ([]byte, error) {
	switch v := v.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return nil, errors.Errorf("unknown type %T to encode with %T", v, t)
	}
}

func (Text) ContentType() string {
	return "text/plain"
}
