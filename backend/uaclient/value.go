package uaclient

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"github.com/gopcua/opcua/ua"
)

// normalizeValue converts a variant value into nil, bool, string or a numeric type.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string:
		return val
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64, int, uint:
		return val
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case *ua.LocalizedText:
		if val == nil {
			return nil
		}
		return val.Text
	case *ua.QualifiedName:
		if val == nil {
			return nil
		}
		return val.Name
	case *ua.NodeID:
		if val == nil {
			return nil
		}
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprint(f)
	}

	return f
}
