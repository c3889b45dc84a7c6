package config

import (
	"testing"

	"github.com/moneytech/mpool/cmn/cos"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
}

func TestValidateClampsPcoPeriod(t *testing.T) {
	c := Default()
	c.PcoPeriod = 0
	require.NoError(t, c.Validate())
	require.Equal(t, 1, c.PcoPeriod)

	c.PcoPeriod = 999999
	require.NoError(t, c.Validate())
	require.Equal(t, 3600, c.PcoPeriod)
}

func TestValidateRejectsBadJobCount(t *testing.T) {
	c := Default()
	c.ObjLoadJobs = 0
	err := c.Validate()
	require.Error(t, err)
	require.Equal(t, cos.InvalidArg, cos.KindOf(err))
}

func TestValidateRejectsOutOfRangePercentages(t *testing.T) {
	c := Default()
	c.PcoPctFull = 150
	require.Error(t, c.Validate())
}

func TestLoadDecodesJSONOverDefaults(t *testing.T) {
	c, err := Load([]byte(`{"pco_pct_full": 50}`))
	require.NoError(t, err)
	require.Equal(t, 50, c.PcoPctFull)
	require.Equal(t, Default().ObjLoadJobs, c.ObjLoadJobs, "fields absent from the JSON keep their default value")
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	_, err := Load([]byte(`not json`))
	require.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	c := Default()
	data, err := c.Marshal()
	require.NoError(t, err)

	got, err := Load(data)
	require.NoError(t, err)
	require.Equal(t, c, got)
}
