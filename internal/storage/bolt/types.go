package bolt

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBCircle struct {
	ID        string `msgpack:"id"`
	Name      string `msgpack:"name"`
	FounderID string `msgpack:"founderId"`
	IsPublic  bool   `msgpack:"isPublic"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (c *DBCircle) Key() []byte {
	return []byte(c.ID)
}

func (c *DBCircle) MarshalBinary() (data []byte, err error) {
	type alias DBCircle
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCircle) UnmarshalBinary(data []byte) error {
	type alias DBCircle
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	ID        string `msgpack:"id"`
	CircleID  string `msgpack:"circleId"`
	UserID    string `msgpack:"userId"`
	Username  string `msgpack:"username"`
	Content   string `msgpack:"content"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBNotification struct {
	Seq        uint64 `msgpack:"seq"`
	ID         string `msgpack:"id"`
	UserID     string `msgpack:"userId"`
	CircleID   string `msgpack:"circleId"`
	CircleName string `msgpack:"circleName"`
	Message    string `msgpack:"message"`
	CreatedAt  int64  `msgpack:"createdAt"`
}

func (n *DBNotification) Key() []byte {
	return seqKey(n.Seq)
}

func (n *DBNotification) MarshalBinary() (data []byte, err error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
