package zerkalo

import (
	"encoding/binary"
	"errors"

	"github.com/learn-decentralized-systems/toytlv"
)

// Outbound envelope literals. The envelope is opaque to this engine:
// it is built here and handed to the transport as-is.
const (
	RoomDataLit  = byte('D')
	LeaveRoomLit = byte('L')
)

var ErrBadEnvelope = errors.New("zerkalo: bad envelope")

// EncodeRoomData wraps an already-encoded payload as
// [ROOM_DATA, roomId, payload].
func EncodeRoomData(roomID int, payload []byte) []byte {
	return toytlv.Record(RoomDataLit,
		toytlv.Record('I', binary.AppendUvarint(nil, uint64(roomID))),
		toytlv.Record('P', payload),
	)
}

// EncodeLeaveRoom builds the graceful leave request [LEAVE_ROOM, roomId].
func EncodeLeaveRoom(roomID int) []byte {
	return toytlv.Record(LeaveRoomLit,
		toytlv.Record('I', binary.AppendUvarint(nil, uint64(roomID))),
	)
}

// ParseEnvelope splits an outbound envelope back into its parts.
// Used by transports and tests; the engine itself never reads these.
func ParseEnvelope(env []byte) (lit byte, roomID int, payload []byte, err error) {
	lit = RoomDataLit
	body, _ := toytlv.Take(RoomDataLit, env)
	if body == nil {
		lit = LeaveRoomLit
		body, _ = toytlv.Take(LeaveRoomLit, env)
	}
	if body == nil {
		return 0, 0, nil, ErrBadEnvelope
	}
	idb, rest := toytlv.Take('I', body)
	if idb == nil {
		return 0, 0, nil, ErrBadEnvelope
	}
	id, n := binary.Uvarint(idb)
	if n <= 0 {
		return 0, 0, nil, ErrBadEnvelope
	}
	roomID = int(id)
	if lit == RoomDataLit {
		payload, _ = toytlv.Take('P', rest)
		if payload == nil {
			return 0, 0, nil, ErrBadEnvelope
		}
	}
	return lit, roomID, payload, nil
}
