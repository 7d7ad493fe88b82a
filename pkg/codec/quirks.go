package codec

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"

	"github.com/cuemby/layerstore/pkg/storage"
)

// quirk replaces the default conversion of one column on one backend
type quirk struct {
	encode func(v any) (any, error)
	decode func(raw any) (any, error)
}

type quirkKey struct {
	table  string
	column string
}

// quirks holds every column whose stored form differs from the default
// conversion. Persisted data depends on these; changing one needs a
// migration.
var quirks = map[quirkKey]map[storage.BackendType]quirk{
	// PEER_SLOTS is a 16 bit count. The relational column was created as
	// INTEGER and the custom resource field as int, so both widen on write
	// and narrow with a range check on read. The key-value store keeps the
	// textual short.
	{"LAYER_DRBD_RESOURCES", storage.ColPeerSlots}: {
		storage.BackendSQL: {encode: widenShort, decode: narrowShort},
		storage.BackendCRD: {encode: widenShort, decode: narrowShort},
		storage.BackendKV:  {encode: formatShort, decode: parseShort},
	},

	// Same width mismatch on the resource definition
	{"LAYER_DRBD_RESOURCE_DEFINITIONS", storage.ColPeerSlots}: {
		storage.BackendSQL: {encode: widenShort, decode: narrowShort},
		storage.BackendCRD: {encode: widenShort, decode: narrowShort},
		storage.BackendKV:  {encode: formatShort, decode: parseShort},
	},

	// Snapshot volume definitions have no minor. The key-value store
	// writes ":null" for it.
	{"LAYER_DRBD_VOLUME_DEFINITIONS", storage.ColVlmMinorNr}: {
		storage.BackendKV: nullSentinelInt,
	},

	// The key-value store writes ":null" for an internal metadata pool
	{"LAYER_DRBD_VOLUMES", storage.ColNodeName}: {
		storage.BackendKV: nullSentinel,
	},
	{"LAYER_DRBD_VOLUMES", storage.ColPoolName}: {
		storage.BackendKV: nullSentinel,
	},

	// Encrypted passwords are base64 text in every backend
	{"LAYER_LUKS_VOLUMES", storage.ColEncryptedPasswd}: {
		storage.BackendSQL: base64Text,
		storage.BackendKV:  base64Text,
		storage.BackendCRD: base64Text,
	},
}

func init() {
	// SNAPSHOT_NAME is part of the key, so live resources store "" in
	// every backend
	for _, table := range []string{
		"LAYER_RESOURCE_IDS", "RESOURCES", "VOLUMES",
		"LAYER_DRBD_RESOURCE_DEFINITIONS", "LAYER_DRBD_VOLUME_DEFINITIONS",
	} {
		quirks[quirkKey{table, storage.ColSnapshotName}] = map[storage.BackendType]quirk{
			storage.BackendSQL: emptySentinel,
			storage.BackendKV:  emptySentinel,
			storage.BackendCRD: emptySentinel,
		}
	}
}

func lookupQuirk(backend storage.BackendType, table *storage.Table, column string) (quirk, bool) {
	byBackend, ok := quirks[quirkKey{table.Name, column}]
	if !ok {
		return quirk{}, false
	}
	q, ok := byBackend[backend]
	return q, ok
}

const kvNull = ":null"

var nullSentinel = quirk{
	encode: func(v any) (any, error) {
		if v == nil {
			return kvNull, nil
		}
		return stringValue(v)
	},
	decode: func(raw any) (any, error) {
		s, err := stringValue(raw)
		if err != nil || s == kvNull {
			return nil, err
		}
		return s, nil
	},
}

var nullSentinelInt = quirk{
	encode: func(v any) (any, error) {
		if v == nil {
			return kvNull, nil
		}
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("want integer, got %T", v)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d does not fit a 32 bit column", n)
		}
		return strconv.FormatInt(n, 10), nil
	},
	decode: func(raw any) (any, error) {
		if raw == nil {
			return nil, nil
		}
		s, err := stringValue(raw)
		if err != nil || s == kvNull {
			return nil, err
		}
		return strconv.ParseInt(s, 10, 32)
	},
}

var emptySentinel = quirk{
	encode: func(v any) (any, error) {
		if v == nil {
			return "", nil
		}
		s, err := stringValue(v)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, fmt.Errorf("empty string is reserved for an absent value")
		}
		return s, nil
	},
	decode: func(raw any) (any, error) {
		if raw == nil {
			return nil, nil
		}
		s, err := stringValue(raw)
		if err != nil || s == "" {
			return nil, err
		}
		return s, nil
	},
}

var base64Text = quirk{
	encode: func(v any) (any, error) {
		if v == nil {
			return nil, nil
		}
		data, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("want []byte, got %T", v)
		}
		return base64.StdEncoding.EncodeToString(data), nil
	},
	decode: func(raw any) (any, error) {
		if raw == nil {
			return nil, nil
		}
		s, err := stringValue(raw)
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	},
}

func stringValue(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("want string, got %T", v)
	}
	return s, nil
}

func toShort(v any) (int16, error) {
	switch x := v.(type) {
	case int16:
		return x, nil
	case int64:
		if x < math.MinInt16 || x > math.MaxInt16 {
			return 0, fmt.Errorf("value %d does not fit a 16 bit field", x)
		}
		return int16(x), nil
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}

func widenShort(v any) (any, error) {
	s, err := toShort(v)
	if err != nil {
		return nil, err
	}
	return int64(s), nil
}

func narrowShort(raw any) (any, error) {
	return toShort(raw)
}

func formatShort(v any) (any, error) {
	s, err := toShort(v)
	if err != nil {
		return nil, err
	}
	return strconv.FormatInt(int64(s), 10), nil
}

func parseShort(raw any) (any, error) {
	s, err := stringValue(raw)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return nil, err
	}
	return int16(n), nil
}
