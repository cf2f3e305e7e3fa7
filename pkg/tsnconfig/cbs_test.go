package tsnconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cbsEntry(maxFrame, bandwidth any, class string) *Map {
	m := NewMap()
	m.Set("max_frame", maxFrame)
	m.Set("bandwidth", bandwidth)
	m.Set("class", class)
	return m
}

func TestNormalizeCbs(t *testing.T) {
	doc := NewMap()
	doc.Set("5", cbsEntry(int64(1500*8), int64(10_000_000), "a"))
	doc.Set("6", cbsEntry(int64(1500*8), int64(20_000_000), "b"))

	cbs, err := normalizeCbs(doc, 1_000_000_000)
	require.NoError(t, err)

	assert.Equal(t, 3, cbs.NumTc) // 5, 6, best-effort
	assert.Equal(t, []string{"1@0", "1@1", "1@2"}, cbs.Queues)
	assert.Len(t, cbs.Streams['a'], 1)
	assert.Len(t, cbs.Streams['b'], 1)

	creditA := cbs.Credits['a']
	assert.Equal(t, int64(10_000), creditA.IdleSlopeKbps)
	assert.Negative(t, creditA.SendSlopeKbps)

	creditB := cbs.Credits['b']
	assert.Equal(t, int64(20_000), creditB.IdleSlopeKbps)
}

func TestNormalizeCbs_FirstSeenOrderAcrossClasses(t *testing.T) {
	doc := NewMap()
	doc.Set("6", cbsEntry(int64(8000), int64(1_000_000), "b"))
	doc.Set("5", cbsEntry(int64(8000), int64(1_000_000), "a"))

	cbs, err := normalizeCbs(doc, 1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, 0, cbs.TcMap[6])
	assert.Equal(t, 1, cbs.TcMap[5])
}

func TestNormalizeCbs_RejectsBadClass(t *testing.T) {
	doc := NewMap()
	doc.Set("5", cbsEntry(int64(8000), int64(1_000_000), "c"))

	_, err := normalizeCbs(doc, 1_000_000_000)
	assert.Error(t, err)
}

func TestNormalizeCbs_RejectsOutOfRangePriority(t *testing.T) {
	doc := NewMap()
	doc.Set("17", cbsEntry(int64(8000), int64(1_000_000), "a"))

	_, err := normalizeCbs(doc, 1_000_000_000)
	assert.Error(t, err)
}

func TestNormalizeCbs_MissingField(t *testing.T) {
	entry := NewMap()
	entry.Set("max_frame", int64(8000))
	entry.Set("class", "a")
	doc := NewMap()
	doc.Set("5", entry)

	_, err := normalizeCbs(doc, 1_000_000_000)
	assert.Error(t, err)
}
