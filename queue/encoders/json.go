// Package encoders serializes message bodies.
package encoders

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %T", v)
	}
	return b, nil
}

// Decode unmarshals data into v.
func (JSON) Decode(data []byte, v any) error {
	return errors.Wrapf(json.Unmarshal(data, v), "unmarshal %T", v)
}

func (JSON) ContentType() string {
	return "application/json"
}
