package request

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDoubleField(b []byte, num protowire.Number, f float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(f))
}

func packedZigZag(vals ...int64) []byte {
	var b []byte
	for _, v := range vals {
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	}
	return b
}

func TestDecodeFeatureCollectionPolyline(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// two fields
	fieldOID := appendStringField(nil, 1, "OBJECTID")
	fieldOID = appendVarintField(fieldOID, 2, 0)
	fieldName := appendStringField(nil, 1, "NAME")
	fieldName = appendVarintField(fieldName, 2, 1)

	// quantization: scale 0.01, origin (100, 200)
	var xform []byte
	xform = appendDoubleField(xform, 1, 0.01)
	xform = appendDoubleField(xform, 2, 0.01)
	xform = appendDoubleField(xform, 3, 100)
	xform = appendDoubleField(xform, 4, 200)

	// attribute values
	oidVal := appendVarintField(nil, 3, protowire.EncodeZigZag(7))
	nameVal := appendStringField(nil, 1, "Main St")

	// one path of two vertices, delta-encoded quantized pairs
	var geom []byte
	var lengths []byte
	lengths = protowire.AppendVarint(lengths, 2)
	geom = appendBytesField(geom, 1, lengths)
	geom = appendBytesField(geom, 2, packedZigZag(1000, 2000, 10, -10))

	var feat []byte
	feat = appendBytesField(feat, 1, oidVal)
	feat = appendBytesField(feat, 1, nameVal)
	feat = appendBytesField(feat, 2, geom)

	var payload []byte
	payload = appendStringField(payload, 1, "OBJECTID")
	payload = appendVarintField(payload, 3, 2) // polyline
	payload = appendBytesField(payload, 4, fieldOID)
	payload = appendBytesField(payload, 4, fieldName)
	payload = appendBytesField(payload, 5, feat)
	payload = appendBytesField(payload, 6, xform)
	payload = appendVarintField(payload, 7, 1)

	fc, err := DecodeFeatureCollection(payload)
	require.NoError(err)

	assert.Equal("OBJECTID", fc.ObjectIDFieldName)
	assert.Equal("esriGeometryPolyline", fc.GeometryType)
	assert.True(fc.ExceededTransferLimit)
	require.Len(fc.Fields, 2)
	assert.Equal("esriFieldTypeOID", fc.Fields[0].Type)
	assert.Equal("NAME", fc.Fields[1].Name)

	require.Len(fc.Features, 1)
	f := fc.Features[0]
	assert.Equal(int64(7), f.Attributes["OBJECTID"])
	assert.Equal("Main St", f.Attributes["NAME"])

	paths, ok := f.Geometry["paths"].([][][2]float64)
	require.True(ok)
	require.Len(paths, 1)
	require.Len(paths[0], 2)
	assert.InDelta(110.0, paths[0][0][0], 1e-9)
	assert.InDelta(220.0, paths[0][0][1], 1e-9)
	assert.InDelta(110.1, paths[0][1][0], 1e-9)
	assert.InDelta(219.9, paths[0][1][1], 1e-9)
}

func TestDecodeFeatureCollectionPoint(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var geom []byte
	geom = appendBytesField(geom, 2, packedZigZag(500, 600))

	var feat []byte
	feat = appendBytesField(feat, 2, geom)

	var payload []byte
	payload = appendVarintField(payload, 3, 0) // point
	payload = appendBytesField(payload, 5, feat)

	fc, err := DecodeFeatureCollection(payload)
	require.NoError(err)
	assert.Equal("esriGeometryPoint", fc.GeometryType)
	require.Len(fc.Features, 1)

	// identity transform when the payload carries none
	assert.Equal(500.0, fc.Features[0].Geometry["x"])
	assert.Equal(600.0, fc.Features[0].Geometry["y"])
}

func TestDecodeFeatureCollectionMalformed(t *testing.T) {
	require := require.New(t)

	_, err := DecodeFeatureCollection([]byte{0xff, 0xff, 0xff})
	require.Error(err)
}
