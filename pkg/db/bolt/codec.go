package bolt

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dstotijn/netlog/pkg/reqlog"
)

// Log entries are stored in protobuf wire format. Optional fields are simply
// omitted when absent; presence of a field means the value was set, so an
// empty body is distinguishable from no body.
const (
	fieldID                 protowire.Number = 1
	fieldTimestampSeconds   protowire.Number = 2
	fieldTimestampNanos     protowire.Number = 3
	fieldMethod             protowire.Number = 4
	fieldURL                protowire.Number = 5
	fieldRequestHeader      protowire.Number = 6
	fieldRequestBody        protowire.Number = 7
	fieldResponseStatusCode protowire.Number = 8
	fieldResponseHeaders    protowire.Number = 9
	fieldResponseHeader     protowire.Number = 10
	fieldResponseBody       protowire.Number = 11
	fieldDuration           protowire.Number = 12
	fieldRequestHeaders     protowire.Number = 13

	fieldHeaderKey   protowire.Number = 1
	fieldHeaderValue protowire.Number = 2
)

var errWireType = errors.New("unexpected wire type")

func marshalLogEntry(entry *reqlog.LogEntry) []byte {
	var b []byte

	b = appendString(b, fieldID, entry.ID)
	b = protowire.AppendTag(b, fieldTimestampSeconds, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(entry.Timestamp.Unix()))
	b = protowire.AppendTag(b, fieldTimestampNanos, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(entry.Timestamp.Nanosecond()))
	b = appendString(b, fieldMethod, entry.Method)
	b = appendString(b, fieldURL, entry.URL)

	if entry.RequestHeaders != nil {
		b = protowire.AppendTag(b, fieldRequestHeaders, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
		b = appendHeaders(b, fieldRequestHeader, entry.RequestHeaders)
	}

	if entry.RequestBody != nil {
		b = protowire.AppendTag(b, fieldRequestBody, protowire.BytesType)
		b = protowire.AppendBytes(b, entry.RequestBody)
	}

	if entry.ResponseStatusCode != nil {
		b = protowire.AppendTag(b, fieldResponseStatusCode, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(*entry.ResponseStatusCode)))
	}

	if entry.ResponseHeaders != nil {
		b = protowire.AppendTag(b, fieldResponseHeaders, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
		b = appendHeaders(b, fieldResponseHeader, entry.ResponseHeaders)
	}

	if entry.ResponseBody != nil {
		b = protowire.AppendTag(b, fieldResponseBody, protowire.BytesType)
		b = protowire.AppendBytes(b, entry.ResponseBody)
	}

	if entry.Duration != nil {
		b = protowire.AppendTag(b, fieldDuration, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*entry.Duration))
	}

	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendHeaders(b []byte, num protowire.Number, headers map[string]string) []byte {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var hb []byte
		hb = appendString(hb, fieldHeaderKey, k)
		hb = appendString(hb, fieldHeaderValue, headers[k])

		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, hb)
	}

	return b
}

func unmarshalLogEntry(b []byte) (*reqlog.LogEntry, error) {
	entry := &reqlog.LogEntry{}

	var sec, nsec int64

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		var err error

		switch num {
		case fieldID:
			entry.ID, n, err = consumeString(typ, b)
		case fieldTimestampSeconds:
			var v uint64
			v, n, err = consumeVarint(typ, b)
			sec = protowire.DecodeZigZag(v)
		case fieldTimestampNanos:
			var v uint64
			v, n, err = consumeVarint(typ, b)
			nsec = int64(v)
		case fieldMethod:
			entry.Method, n, err = consumeString(typ, b)
		case fieldURL:
			entry.URL, n, err = consumeString(typ, b)
		case fieldRequestHeaders:
			_, n, err = consumeVarint(typ, b)
			if entry.RequestHeaders == nil {
				entry.RequestHeaders = map[string]string{}
			}
		case fieldRequestHeader:
			if entry.RequestHeaders == nil {
				entry.RequestHeaders = map[string]string{}
			}
			n, err = consumeHeader(typ, b, entry.RequestHeaders)
		case fieldRequestBody:
			entry.RequestBody, n, err = consumeBytes(typ, b)
		case fieldResponseStatusCode:
			var v uint64
			v, n, err = consumeVarint(typ, b)
			code := int(protowire.DecodeZigZag(v))
			entry.ResponseStatusCode = &code
		case fieldResponseHeaders:
			_, n, err = consumeVarint(typ, b)
			if entry.ResponseHeaders == nil {
				entry.ResponseHeaders = map[string]string{}
			}
		case fieldResponseHeader:
			if entry.ResponseHeaders == nil {
				entry.ResponseHeaders = map[string]string{}
			}
			n, err = consumeHeader(typ, b, entry.ResponseHeaders)
		case fieldResponseBody:
			entry.ResponseBody, n, err = consumeBytes(typ, b)
		case fieldDuration:
			if typ != protowire.Fixed64Type {
				return nil, fmt.Errorf("field %d: %w", num, errWireType)
			}
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			d := math.Float64frombits(v)
			entry.Duration = &d
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}

		if err != nil {
			return nil, fmt.Errorf("field %d: %w", num, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	entry.Timestamp = time.Unix(sec, nsec)

	return entry, nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, errWireType
	}

	s, n := protowire.ConsumeString(b)

	return s, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType
	}

	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n, nil
	}

	// Copy, since b is only valid for the life of the transaction.
	return append([]byte{}, v...), n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errWireType
	}

	v, n := protowire.ConsumeVarint(b)

	return v, n, nil
}

func consumeHeader(typ protowire.Type, b []byte, headers map[string]string) (int, error) {
	hb, n, err := consumeBytes(typ, b)
	if err != nil || n < 0 {
		return n, err
	}

	var key, value string

	for len(hb) > 0 {
		num, htyp, m := protowire.ConsumeTag(hb)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		hb = hb[m:]

		switch num {
		case fieldHeaderKey:
			key, m, err = consumeString(htyp, hb)
		case fieldHeaderValue:
			value, m, err = consumeString(htyp, hb)
		default:
			m = protowire.ConsumeFieldValue(num, htyp, hb)
		}

		if err != nil {
			return 0, err
		}
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		hb = hb[m:]
	}

	headers[key] = value

	return n, nil
}
