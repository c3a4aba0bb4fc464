package esc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncManagerRecord(t *testing.T) {
	sm := SyncManager{PhysStart: 0x1000, Length: 128, Control: SyncManagerCtrlMailboxOut, Activate: 1}
	raw, _ := sm.MarshalBinary()
	assert.EqualValues(t, []byte{0x00, 0x10, 0x80, 0x00, 0x26, 0x00, 0x01, 0x00}, raw)
	decoded := SyncManager{}
	assert.Nil(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, sm, decoded)
	assert.True(t, decoded.Enabled())
	assert.NotNil(t, decoded.UnmarshalBinary(raw[:4]))
}

func TestFMMURecord(t *testing.T) {
	f := FMMU{LogicalStart: 0x10, Length: 6, LogicalStopBit: 7, PhysStart: 0x1100, Type: FMMUWrite, Activate: 1}
	raw, _ := f.MarshalBinary()
	assert.Len(t, raw, FMMULen)
	decoded := FMMU{}
	assert.Nil(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, f, decoded)

	assert.True(t, f.Overlaps(0, 0x11))
	assert.True(t, f.Overlaps(0x15, 4))
	assert.False(t, f.Overlaps(0x16, 4))
	assert.False(t, f.Overlaps(0, 0x10))
	assert.EqualValues(t, 0x0610, FMMUAddr(1))
	assert.EqualValues(t, 0x0818, SyncManagerAddr(3))
}

func TestStrings(t *testing.T) {
	raw := EncodeStrings([]string{"Y7-Servo", "CiA402"})
	assert.Equal(t, 0, len(raw)%2)
	strs, err := ParseStrings(raw)
	assert.Nil(t, err)
	assert.Equal(t, []string{"Y7-Servo", "CiA402"}, strs)

	_, err = ParseStrings([]byte{2, 3, 'a'})
	assert.NotNil(t, err)
	_, err = ParseStrings(nil)
	assert.NotNil(t, err)
	assert.Equal(t, "Invalid output configuration", DescribeALStatusCode(ALCodeInvalidOutputConfig))
}
