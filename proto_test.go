package zerkalo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomDataEnvelope(t *testing.T) {
	env := EncodeRoomData(77, []byte("payload"))
	lit, id, payload, err := ParseEnvelope(env)
	assert.Nil(t, err)
	assert.Equal(t, RoomDataLit, lit)
	assert.Equal(t, 77, id)
	assert.Equal(t, []byte("payload"), payload)
}

func TestLeaveEnvelope(t *testing.T) {
	env := EncodeLeaveRoom(300)
	lit, id, payload, err := ParseEnvelope(env)
	assert.Nil(t, err)
	assert.Equal(t, LeaveRoomLit, lit)
	assert.Equal(t, 300, id)
	assert.Nil(t, payload)
}

func TestBadEnvelope(t *testing.T) {
	_, _, _, err := ParseEnvelope([]byte{})
	assert.Equal(t, ErrBadEnvelope, err)
}
