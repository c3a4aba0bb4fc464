package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDefaultServo(t *testing.T) {
	od := DefaultServo()
	assert.NotNil(t, od)

	identity := od.Index(EntryIdentity)
	assert.NotNil(t, identity)
	vendor, err := identity.Uint32(1)
	assert.Nil(t, err)
	assert.Equal(t, ServoVendorId, vendor)
	product, _ := identity.Uint32(2)
	assert.Equal(t, ServoProductCode, product)

	controlWord, err := od.Lookup(EntryControlWord, 0)
	assert.Nil(t, err)
	assert.Equal(t, Width16, controlWord.Width())
	assert.True(t, controlWord.RxMappable())
	assert.False(t, controlWord.TxMappable())

	statusWord, _ := od.Lookup(EntryStatusWord, 0)
	assert.True(t, statusWord.TxMappable())
	assert.False(t, statusWord.Writable())

	velocity, _ := od.Lookup(EntryTargetVelocity, 0)
	assert.Equal(t, Width32, velocity.Width())
	assert.Equal(t, INTEGER32, velocity.DataType)

	assert.Equal(t, od.Index("Target torque"), od.Index(EntryTargetTorque))

	assignment := od.Index(EntryRxPDOAssign)
	assert.Equal(t, ObjectTypeARRAY, assignment.ObjectType)
	assert.Equal(t, 5, assignment.SubCount())
}

func TestLookupErrors(t *testing.T) {
	od := DefaultServo()
	_, err := od.Lookup(0x2000, 0)
	assert.Equal(t, ErrIdxNotExist, err)
	_, err = od.Lookup(EntryControlWord, 1)
	assert.Equal(t, ErrSubNotExist, err)
	_, err = od.Lookup(EntryIdentity, 9)
	assert.Equal(t, ErrSubNotExist, err)
}

func TestVariableAccess(t *testing.T) {
	od := NewOD()
	entry, err := od.AddVariableType(0x2000, "INTEGER16 value", INTEGER16, AttributeSdoRw, "-5")
	assert.Nil(t, err)
	variable, _ := entry.SubIndex(0)
	assert.EqualValues(t, -5, variable.Int())

	assert.Nil(t, variable.PutInt(1000))
	assert.EqualValues(t, 1000, variable.Int())
	assert.Equal(t, ErrValueHigh, variable.PutInt(40000))
	assert.Equal(t, ErrDataLong, variable.SetBytes([]byte{1, 2, 3, 4}))
	assert.Equal(t, ErrDataShort, variable.SetBytes([]byte{1}))

	variable.Reset()
	assert.EqualValues(t, -5, variable.Int())

	record := od.AddRecord(0x2001, "record")
	_, err = record.AddSubObject(0, "count", UNSIGNED8, AttributeSdoR, "0x2")
	assert.Nil(t, err)
	_, err = record.AddSubObject(1, "bad", UNSIGNED8, AttributeSdoR, "0x200")
	assert.NotNil(t, err)
	_, err = entry.AddSubObject(1, "not allowed", UNSIGNED8, AttributeSdoR, "0")
	assert.Equal(t, ErrDevIncompat, err)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("[2000]\nParameterName=x\nObjectType=0x7\nDataType=0x0009\n"))
	assert.NotNil(t, err)

	_, err = Parse([]byte("[2000sub1]\nParameterName=x\nDataType=0x0005\n"))
	assert.NotNil(t, err)

	od, err := Parse([]byte("[2000]\nParameterName=x\nDataType=0x0006\nAccessType=rw\nDefaultValue=0x10\nPDOMapping=1\n"))
	assert.Nil(t, err)
	v, err := od.Lookup(0x2000, 0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x10, v.Uint())
	assert.True(t, v.RxMappable() && v.TxMappable())
}
