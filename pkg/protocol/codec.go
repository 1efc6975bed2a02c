package protocol

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

const logPrefix = "protocol:codec"

// ErrMalformed is returned by Decode when a frame cannot be interpreted as a Message.
var ErrMalformed = errors.New("malformed message")

// Encode serializes a message into a single frame.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode %s message: %w", logPrefix, m.Type, err)
	}
	return data, nil
}

// Decode parses a frame into a Message and checks that the variant carries its required fields.
// When the JSON itself is valid but the variant is incomplete, the partially decoded message is
// returned alongside the error so that the caller can still echo its id.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.validate(); err != nil {
		return &m, err
	}
	return &m, nil
}

func (m *Message) validate() error {
	switch m.Type {
	case TypeQuery, TypeRequery:
		if m.QueryKey == "" {
			return fmt.Errorf("%w: %s message requires queryKey", ErrMalformed, m.Type)
		}
	case TypeMutation:
		if m.MutationKey == "" {
			return fmt.Errorf("%w: %s message requires mutationKey", ErrMalformed, m.Type)
		}
	case TypeDataUpdate, TypeError:
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return nil
}
