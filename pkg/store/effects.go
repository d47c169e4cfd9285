package store

import (
	"encoding/json"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

func marshalEffects(e contracts.Effects) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEffects(b []byte, e *contracts.Effects) error {
	if len(b) == 0 {
		*e = contracts.Effects{}
		return nil
	}
	return json.Unmarshal(b, e)
}
