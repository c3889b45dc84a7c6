package ecio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMblockEraseSucceedsOnCleanPayload(t *testing.T) {
	r, err := New(1<<12, 1)
	require.NoError(t, err)

	err = r.MblockErase(1, 0, 8)
	require.NoError(t, err, "mandatory erase must split/encode/verify without error on a zeroed payload")
}

func TestMlogEraseNeverFails(t *testing.T) {
	r, err := New(1<<12, 1)
	require.NoError(t, err)

	// Advisory erase must swallow any shard-size edge case rather than
	// surface an error, matching spec §4.5 "advisory for mlogs".
	err = r.MlogErase(1, 0, 1)
	require.NoError(t, err)
}

func TestObjCapFromLayout(t *testing.T) {
	r, err := New(4096, 1)
	require.NoError(t, err)
	require.EqualValues(t, 4*4096, r.ObjCapFromLayout(4, 4096))
}

func TestZonePg(t *testing.T) {
	r, err := New(4096, 7)
	require.NoError(t, err)
	require.EqualValues(t, 7, r.ZonePg(1))
}
