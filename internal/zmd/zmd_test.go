package zmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipicoli/ztl-go/internal/media/simulated"
	"github.com/ipicoli/ztl-go/internal/uapi"
)

func testGeometry() uapi.Geometry {
	return uapi.Geometry{
		NumGroups:      2,
		PUnitsPerGroup: 1,
		ZonesPerPUnit:  4,
		SectorsPerZone: 64,
		SectorSize:     512,
	}
}

// TestCreateDerivesSectorFromGeometry exercises spec.md §8 property 8:
// zmd[g,i].addr.sector = sec_grp·g + sec_zn·i.
func TestCreateDerivesSectorFromGeometry(t *testing.T) {
	geo := testGeometry()
	for g := uint32(0); g < geo.NumGroups; g++ {
		table := Create(g, geo)
		for i := 0; i < table.Len(); i++ {
			e, err := table.Get(uint64(i), false)
			require.NoError(t, err)
			assert.Equal(t, geo.ZoneBaseSector(g, uint32(i)), e.Addr.Sector)
			assert.True(t, e.Available)
			assert.Equal(t, e.Wptr, e.Addr.Sector)
			assert.Equal(t, e.WptrInflight, e.Addr.Sector)
		}
	}
}

func TestGetByOffsetDividesBySectorsPerZone(t *testing.T) {
	geo := testGeometry()
	table := Create(0, geo)
	e, err := table.Get(geo.SectorsPerZone*2+5, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), e.Addr.Zone)
}

func TestGetOutOfRangeFails(t *testing.T) {
	geo := testGeometry()
	table := Create(0, geo)
	_, err := table.Get(uint64(table.Len()), false)
	require.Error(t, err)
}

func TestLoadOnFreshSimulatorReportsFresh(t *testing.T) {
	geo := testGeometry()
	m := simulated.New(geo)
	_, fresh, err := Load(context.Background(), m, 0)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestFlushInvalidateMarkAreNoops(t *testing.T) {
	table := Create(0, testGeometry())
	e, err := table.Get(0, false)
	require.NoError(t, err)
	table.Invalidate(e)
	table.Mark(e)
	require.NoError(t, table.Flush())
}
