package mdcio

import (
	"io"
	"testing"

	"github.com/moneytech/mpool/cmn/cos"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) Log {
	t.Helper()
	opener := &FileOpener{Dir: t.TempDir(), Cap: 4096}
	log, err := opener.Open(10, 11, OpenCreate)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestAppendReadRoundTrip(t *testing.T) {
	log := openTestLog(t)
	require.NoError(t, log.Append([]byte("first"), false))
	require.NoError(t, log.Append([]byte("second"), false))
	require.NoError(t, log.Rewind())

	buf := make([]byte, 64)
	n, err := log.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "first", string(buf[:n]))

	n, err = log.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "second", string(buf[:n]))

	_, err = log.Read(buf)
	require.Equal(t, io.EOF, err)
}

func TestAppendRejectsOverCapacity(t *testing.T) {
	opener := &FileOpener{Dir: t.TempDir(), Cap: 20}
	log, err := opener.Open(1, 2, OpenCreate)
	require.NoError(t, err)
	defer log.Close()

	err = log.Append(make([]byte, 64), false)
	require.Error(t, err)
	require.Equal(t, cos.TooBig, cos.KindOf(err))
}

func TestCompactStartEndSwapsActiveLog(t *testing.T) {
	log := openTestLog(t)
	require.NoError(t, log.Append([]byte("stale"), false))

	require.NoError(t, log.CompactStart())
	require.NoError(t, log.Append([]byte("fresh"), false))
	require.NoError(t, log.CompactEnd())

	require.NoError(t, log.Rewind())
	buf := make([]byte, 64)
	n, err := log.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(buf[:n]), "after compaction the active log must contain only the re-written records")
}

func TestReadDetectsCorruption(t *testing.T) {
	log := openTestLog(t).(*fileLog)
	require.NoError(t, log.Append([]byte("payload"), false))

	// Flip a byte in the payload region, past the header.
	_, err := log.files[log.active].WriteAt([]byte{0xff}, headerLen)
	require.NoError(t, err)

	require.NoError(t, log.Rewind())
	buf := make([]byte, 64)
	_, err = log.Read(buf)
	require.Error(t, err)
	require.Equal(t, cos.Corrupt, cos.KindOf(err))
}
