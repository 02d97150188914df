package request

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Feature-service query endpoints can return a quantized protobuf payload
// instead of JSON. DecodeFeatureCollection converts that wire format into
// the equivalent JSON feature collection, so callers asking for parsed
// JSON never see the binary encoding.
//
// Wire schema (proto3, field numbers fixed by the service):
//
//	FeatureCollection:
//	  1 objectIdFieldName  string
//	  2 globalIdFieldName  string
//	  3 geometryType       varint (0 point, 1 multipoint, 2 polyline, 3 polygon)
//	  4 fields             repeated Field
//	  5 features           repeated Feature
//	  6 transform          Transform
//	  7 exceededTransferLimit bool
//	Field:      1 name string, 2 type varint, 3 alias string
//	Feature:    1 attributes repeated Value, 2 geometry Geometry
//	Value:      1 string, 2 double, 3 sint64, 4 bool (oneof)
//	Geometry:   1 lengths packed varint, 2 coords packed sint64 (delta-encoded pairs)
//	Transform:  1 scaleX, 2 scaleY, 3 translateX, 4 translateY (all double)
//
// Coordinates are delta-encoded integers; true positions are recovered by
// cumulative sums scaled and translated per the transform.

type FeatureCollection struct {
	ObjectIDFieldName     string      `json:"objectIdFieldName,omitempty"`
	GlobalIDFieldName     string      `json:"globalIdFieldName,omitempty"`
	GeometryType          string      `json:"geometryType,omitempty"`
	Fields                []FieldInfo `json:"fields,omitempty"`
	Features              []Feature   `json:"features"`
	ExceededTransferLimit bool        `json:"exceededTransferLimit,omitempty"`
}

type FieldInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Alias string `json:"alias,omitempty"`
}

type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   map[string]any `json:"geometry,omitempty"`
}

var geometryTypeNames = map[uint64]string{
	0: "esriGeometryPoint",
	1: "esriGeometryMultipoint",
	2: "esriGeometryPolyline",
	3: "esriGeometryPolygon",
}

var fieldTypeNames = map[uint64]string{
	0: "esriFieldTypeOID",
	1: "esriFieldTypeString",
	2: "esriFieldTypeDouble",
	3: "esriFieldTypeInteger",
	4: "esriFieldTypeDate",
	5: "esriFieldTypeGlobalID",
}

type quantTransform struct {
	scaleX, scaleY         float64
	translateX, translateY float64
}

// DecodeFeatureCollection parses a binary feature query payload.
func DecodeFeatureCollection(data []byte) (*FeatureCollection, error) {
	fc := &FeatureCollection{Features: []Feature{}}
	xform := quantTransform{scaleX: 1, scaleY: 1}
	var geomType uint64

	var rawFeatures [][]byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed feature payload tag")
		}
		data = data[n:]

		switch num {
		case 1, 2:
			s, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
			if num == 1 {
				fc.ObjectIDFieldName = s
			} else {
				fc.GlobalIDFieldName = s
			}
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed geometry type")
			}
			data = data[n:]
			geomType = v
			fc.GeometryType = geometryTypeNames[v]
		case 4:
			b, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
			fi, err := decodeField(b)
			if err != nil {
				return nil, err
			}
			fc.Fields = append(fc.Fields, fi)
		case 5:
			b, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
			// features decode after the transform is known
			rawFeatures = append(rawFeatures, b)
		case 6:
			b, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
			xform, err = decodeTransform(b)
			if err != nil {
				return nil, err
			}
		case 7:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed transfer limit flag")
			}
			data = data[n:]
			fc.ExceededTransferLimit = v != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("malformed feature payload field %d", num)
			}
			data = data[n:]
		}
	}

	for _, b := range rawFeatures {
		f, err := decodeFeature(b, fc.Fields, geomType, xform)
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, f)
	}
	return fc, nil
}

func decodeField(data []byte) (FieldInfo, error) {
	var fi FieldInfo
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fi, fmt.Errorf("malformed field descriptor")
		}
		data = data[n:]
		switch num {
		case 1, 3:
			s, n, err := consumeString(data, typ)
			if err != nil {
				return fi, err
			}
			data = data[n:]
			if num == 1 {
				fi.Name = s
			} else {
				fi.Alias = s
			}
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fi, fmt.Errorf("malformed field type")
			}
			data = data[n:]
			fi.Type = fieldTypeNames[v]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fi, fmt.Errorf("malformed field descriptor")
			}
			data = data[n:]
		}
	}
	return fi, nil
}

func decodeTransform(data []byte) (quantTransform, error) {
	x := quantTransform{scaleX: 1, scaleY: 1}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 || typ != protowire.Fixed64Type {
			return x, fmt.Errorf("malformed transform")
		}
		data = data[n:]
		v, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return x, fmt.Errorf("malformed transform value")
		}
		data = data[n:]
		f := fixed64ToFloat(v)
		switch num {
		case 1:
			x.scaleX = f
		case 2:
			x.scaleY = f
		case 3:
			x.translateX = f
		case 4:
			x.translateY = f
		}
	}
	return x, nil
}

func decodeFeature(data []byte, fields []FieldInfo, geomType uint64, xform quantTransform) (Feature, error) {
	f := Feature{Attributes: map[string]any{}}
	attrIdx := 0
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return f, fmt.Errorf("malformed feature")
		}
		data = data[n:]
		switch num {
		case 1:
			b, n, err := consumeBytes(data, typ)
			if err != nil {
				return f, err
			}
			data = data[n:]
			val, err := decodeValue(b)
			if err != nil {
				return f, err
			}
			name := fmt.Sprintf("field_%d", attrIdx)
			if attrIdx < len(fields) {
				name = fields[attrIdx].Name
			}
			f.Attributes[name] = val
			attrIdx++
		case 2:
			b, n, err := consumeBytes(data, typ)
			if err != nil {
				return f, err
			}
			data = data[n:]
			geom, err := decodeGeometry(b, geomType, xform)
			if err != nil {
				return f, err
			}
			f.Geometry = geom
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return f, fmt.Errorf("malformed feature field %d", num)
			}
			data = data[n:]
		}
	}
	return f, nil
}

func decodeValue(data []byte) (any, error) {
	var out any
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed attribute value")
		}
		data = data[n:]
		switch num {
		case 1:
			s, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
			out = s
		case 2:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed double value")
			}
			data = data[n:]
			out = fixed64ToFloat(v)
		case 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed int value")
			}
			data = data[n:]
			out = protowire.DecodeZigZag(v)
		case 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed bool value")
			}
			data = data[n:]
			out = v != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("malformed attribute value")
			}
			data = data[n:]
		}
	}
	return out, nil
}

func decodeGeometry(data []byte, geomType uint64, xform quantTransform) (map[string]any, error) {
	var lengths []int
	var coords []int64

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed geometry")
		}
		data = data[n:]
		b, n, err := consumeBytes(data, typ)
		if err != nil {
			return nil, err
		}
		data = data[n:]

		switch num {
		case 1:
			for len(b) > 0 {
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return nil, fmt.Errorf("malformed geometry lengths")
				}
				b = b[n:]
				lengths = append(lengths, int(v))
			}
		case 2:
			for len(b) > 0 {
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return nil, fmt.Errorf("malformed geometry coords")
				}
				b = b[n:]
				coords = append(coords, protowire.DecodeZigZag(v))
			}
		}
	}

	if len(coords)%2 != 0 {
		return nil, fmt.Errorf("odd coordinate count in geometry")
	}

	// points have no lengths entry: a single delta-decoded pair
	if geomType == 0 {
		if len(coords) < 2 {
			return nil, fmt.Errorf("point geometry without coordinates")
		}
		x, y := xform.apply(coords[0], coords[1])
		return map[string]any{"x": x, "y": y}, nil
	}

	if len(lengths) == 0 {
		lengths = []int{len(coords) / 2}
	}

	parts := make([][][2]float64, 0, len(lengths))
	i := 0
	for _, l := range lengths {
		part := make([][2]float64, 0, l)
		var accX, accY int64
		for j := 0; j < l; j++ {
			if i+1 >= len(coords) {
				return nil, fmt.Errorf("geometry lengths exceed coordinates")
			}
			accX += coords[i]
			accY += coords[i+1]
			i += 2
			x, y := xform.apply(accX, accY)
			part = append(part, [2]float64{x, y})
		}
		parts = append(parts, part)
	}

	key := "paths"
	if geomType == 3 {
		key = "rings"
	} else if geomType == 1 {
		// multipoint: single flat list of points
		return map[string]any{"points": parts[0]}, nil
	}
	return map[string]any{key: parts}, nil
}

func (x quantTransform) apply(ix, iy int64) (float64, float64) {
	return float64(ix)*x.scaleX + x.translateX, float64(iy)*x.scaleY + x.translateY
}

func consumeString(data []byte, typ protowire.Type) (string, int, error) {
	b, n, err := consumeBytes(data, typ)
	return string(b), n, err
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	b, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("malformed length-delimited field")
	}
	return b, n, nil
}

func fixed64ToFloat(v uint64) float64 {
	return math.Float64frombits(v)
}
