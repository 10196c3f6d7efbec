package redisstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

const recordFormatVersionCurrent = 1

var errCorruptRecord = errors.New("redisstore: corrupt record")

// encodeRecord writes version, name, occurredAt and payload. Stream identity
// is implied by the key and is not stored.
func encodeRecord(rec eventstore.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(32 + len(rec.Name) + len(rec.Payload))

	buf.WriteByte(recordFormatVersionCurrent)

	if err := binary.Write(&buf, binary.BigEndian, rec.Version); err != nil {
		return nil, err
	}

	if len(rec.Name) > 255 {
		return nil, errors.New("event name too long")
	}
	buf.WriteByte(byte(len(rec.Name)))
	buf.WriteString(rec.Name)

	if err := binary.Write(&buf, binary.BigEndian, rec.OccurredAt.UnixNano()); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(rec.Payload))); err != nil {
		return nil, err
	}
	buf.Write(rec.Payload)

	return buf.Bytes(), nil
}

func decodeRecord(aggregateType, aggregateID string, data []byte) (eventstore.Record, error) {
	r := bytes.NewReader(data)
	rec := eventstore.Record{AggregateType: aggregateType, AggregateID: aggregateID}

	format, err := r.ReadByte()
	if err != nil {
		return rec, errCorruptRecord
	}
	if format != recordFormatVersionCurrent {
		return rec, errCorruptRecord
	}

	if err := binary.Read(r, binary.BigEndian, &rec.Version); err != nil {
		return rec, errCorruptRecord
	}

	nameLen, err := r.ReadByte()
	if err != nil {
		return rec, errCorruptRecord
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return rec, errCorruptRecord
	}
	rec.Name = string(name)

	var nanos int64
	if err := binary.Read(r, binary.BigEndian, &nanos); err != nil {
		return rec, errCorruptRecord
	}
	rec.OccurredAt = time.Unix(0, nanos).UTC()

	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return rec, errCorruptRecord
	}
	if int64(payloadLen) != int64(r.Len()) {
		return rec, errCorruptRecord
	}
	rec.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, rec.Payload); err != nil {
		return rec, errCorruptRecord
	}

	return rec, nil
}
