package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwingPull/internal/engine"
)

func TestSMA(t *testing.T) {
	s, err := NewSMA(3)
	require.NoError(t, err)

	_, ok := s.Update(1)
	assert.False(t, ok)
	_, ok = s.Update(2)
	assert.False(t, ok)

	v, ok := s.Update(3)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, _ = s.Update(4)
	assert.Equal(t, 3.0, v)

	_, err = NewSMA(0)
	assert.Error(t, err)
}

func TestATRWilder(t *testing.T) {
	a, err := NewATR(2)
	require.NoError(t, err)

	_, ok := a.Update(10, 8, 9)
	assert.False(t, ok)

	v, ok := a.Update(11, 9, 10)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, _ = a.Update(14, 10, 13)
	assert.Equal(t, 3.0, v)
}

func TestTrueRangeUsesGap(t *testing.T) {
	assert.Equal(t, 7.0, TrueRange(12, 10, 5))
	assert.Equal(t, 6.0, TrueRange(12, 10, 16))
}

func TestFractalDetector(t *testing.T) {
	f, err := NewFractalDetector(1)
	require.NoError(t, err)

	assert.Empty(t, f.Update(10, 5))
	assert.Empty(t, f.Update(12, 6))
	assert.Equal(t, []engine.PivotEvent{{Price: 12, BarsAgo: 1, Kind: engine.High}}, f.Update(11, 4))
	assert.Empty(t, f.Update(9, 3))
	assert.Equal(t, []engine.PivotEvent{{Price: 3, BarsAgo: 1, Kind: engine.Low}}, f.Update(10, 5))
}

func TestFractalFlatTopReportedOnce(t *testing.T) {
	f, err := NewFractalDetector(1)
	require.NoError(t, err)

	f.Update(10, 5)
	f.Update(12, 6)
	got := f.Update(12, 6)
	require.Len(t, got, 1)
	assert.Equal(t, 12.0, got[0].Price)
	assert.Empty(t, f.Update(11, 5))
}

func TestFractalOutsideBarHighFirst(t *testing.T) {
	f, err := NewFractalDetector(1)
	require.NoError(t, err)

	f.Update(10, 5)
	f.Update(12, 3)
	got := f.Update(11, 4)
	require.Len(t, got, 2)
	assert.Equal(t, engine.High, got[0].Kind)
	assert.Equal(t, engine.Low, got[1].Kind)
}
