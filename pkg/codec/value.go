package codec

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"

	"github.com/cuemby/layerstore/pkg/storage"
)

// Values handed to RowBuilder and returned by Row are backend neutral:
// string, int64, int16, bool, []byte or nil. Backends store them in their
// native form (see storage.Record).

// neutral flattens pointers and widens integers
func neutral(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *int:
		if x == nil {
			return nil
		}
		return int64(*x)
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case *int16:
		if x == nil {
			return nil
		}
		return *x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case fmt.Stringer:
		return x.String()
	}
	return v
}

// encodeDefault converts a neutral value into the native form of backend
func encodeDefault(backend storage.BackendType, c storage.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(int16); ok {
		v = int64(s)
	}

	switch c.Type {
	case storage.TypeString:
		s, ok := v.(string)
		if !ok {
			break
		}
		return s, nil
	case storage.TypeInt, storage.TypeBigInt:
		n, ok := v.(int64)
		if !ok {
			break
		}
		if c.Type == storage.TypeInt && (n < math.MinInt32 || n > math.MaxInt32) {
			return nil, fmt.Errorf("value %d does not fit a 32 bit column", n)
		}
		if backend == storage.BackendKV {
			return strconv.FormatInt(n, 10), nil
		}
		return n, nil
	case storage.TypeBool:
		b, ok := v.(bool)
		if !ok {
			break
		}
		if backend == storage.BackendKV {
			return strconv.FormatBool(b), nil
		}
		return b, nil
	case storage.TypeBlob:
		data, ok := v.([]byte)
		if !ok {
			break
		}
		if backend == storage.BackendSQL {
			return data, nil
		}
		return base64.StdEncoding.EncodeToString(data), nil
	}
	return nil, fmt.Errorf("cannot store %T in %s column", v, c.Type)
}

// decodeDefault converts a native value of backend into its neutral form
func decodeDefault(backend storage.BackendType, c storage.Column, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	if s, ok := raw.(string); ok && backend == storage.BackendKV {
		switch c.Type {
		case storage.TypeString:
			return s, nil
		case storage.TypeInt:
			return strconv.ParseInt(s, 10, 32)
		case storage.TypeBigInt:
			return strconv.ParseInt(s, 10, 64)
		case storage.TypeBool:
			return strconv.ParseBool(s)
		case storage.TypeBlob:
			return base64.StdEncoding.DecodeString(s)
		}
	}

	switch c.Type {
	case storage.TypeString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case storage.TypeInt, storage.TypeBigInt:
		if n, ok := raw.(int64); ok {
			if c.Type == storage.TypeInt && (n < math.MinInt32 || n > math.MaxInt32) {
				return nil, fmt.Errorf("value %d does not fit a 32 bit column", n)
			}
			return n, nil
		}
	case storage.TypeBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case storage.TypeBlob:
		switch x := raw.(type) {
		case []byte:
			return x, nil
		case string:
			return base64.StdEncoding.DecodeString(x)
		}
	}
	return nil, fmt.Errorf("unexpected %T in %s column", raw, c.Type)
}
