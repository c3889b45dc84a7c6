package omf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackOCreate(t *testing.T) {
	rec := &Record{
		Type: TypeOCreate,
		Layout: ObjLayout{
			ObjID: 0xdeadbeef, Drive: 7, ZoneStart: 100, ZoneCount: 4, Gen: 1,
		},
	}
	buf := make([]byte, MaxRecLenForTest)
	n, err := Pack(rec, buf)
	require.NoError(t, err)

	got, err := Unpack(buf[:n])
	require.NoError(t, err)
	require.Equal(t, rec.Type, got.Type)
	require.Equal(t, rec.Layout, got.Layout)
}

func TestPackUnpackOErasePreservesGen(t *testing.T) {
	rec := &Record{Type: TypeOErase, ObjID: 42, Gen: 99}
	buf := make([]byte, MaxRecLenForTest)
	n, err := Pack(rec, buf)
	require.NoError(t, err)

	got, err := Unpack(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, 42, got.ObjID)
	require.EqualValues(t, 99, got.Gen)
}

func TestPackUnpackMCConfigRoundTrip(t *testing.T) {
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i)
	}
	rec := &Record{
		Type: TypeMCConfig,
		MCConfig: MCConfig{
			DriveUUID: uuid, ZonePg: 4096, SectorSz: 512,
			DeviceType: 1, Features: 0x7, Class: 2, State: 0,
		},
	}
	buf := make([]byte, MaxRecLenForTest)
	n, err := Pack(rec, buf)
	require.NoError(t, err)

	got, err := Unpack(buf[:n])
	require.NoError(t, err)
	require.Equal(t, rec.MCConfig, got.MCConfig)
}

func TestPackUnpackMPConfigVariableLength(t *testing.T) {
	rec := &Record{Type: TypeMPConfig, MPConfig: MPConfig{Payload: []byte("hello mpool")}}
	buf := make([]byte, MaxRecLenForTest)
	n, err := Pack(rec, buf)
	require.NoError(t, err)

	got, err := Unpack(buf[:n])
	require.NoError(t, err)
	require.Equal(t, rec.MPConfig.Payload, got.MPConfig.Payload)
}

func TestPackShortBufferFails(t *testing.T) {
	rec := &Record{Type: TypeOCreate, Layout: ObjLayout{ObjID: 1, Drive: 1, ZoneStart: 1, ZoneCount: 1, Gen: 1}}
	buf := make([]byte, 4) // too short for a full layout record
	_, err := Pack(rec, buf)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestUnpackTypeDoesNotRequireFullBody(t *testing.T) {
	buf := []byte{byte(TypeOIDCkpt)}
	typ, err := UnpackType(buf)
	require.NoError(t, err)
	require.Equal(t, TypeOIDCkpt, typ)
}

func TestTypeIsObj(t *testing.T) {
	require.True(t, TypeOCreate.IsObj())
	require.True(t, TypeOErase.IsObj())
	require.False(t, TypeVersion.IsObj())
	require.False(t, TypeMPConfig.IsObj())
}

// MaxRecLenForTest mirrors pmd.MaxRecLen without importing package pmd
// (which imports omf), avoiding an import cycle in this test.
const MaxRecLenForTest = 4096
