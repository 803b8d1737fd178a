package dispatch

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// frame carries one opaque message payload across a forwarded call.
type frame struct {
	payload []byte
}

// rawCodec passes payloads through as opaque bytes so arbitrary backend
// methods can be forwarded without their message descriptors. Real
// proto messages still round-trip through standard proto marshaling,
// which keeps pooled connections usable for typed clients such as the
// health probe.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *frame:
		return m.payload, nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *frame:
		m.payload = data
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
}

// Name reports "proto" so the wire content-type matches what backends
// expect.
func (rawCodec) Name() string {
	return "proto"
}
