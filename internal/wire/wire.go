// Package wire is the coordinator log's on-the-wire record format: a
// hand-declared, protobuf-tagged struct in the teacher's
// internal/ingest/socket/protocol.go idiom (no generated .pb.go, just
// proto struct tags plus the three stub methods proto.Message requires)
// rather than pulling in protoc-generated code for a three-field record.
package wire

import "github.com/golang/protobuf/proto"

// CoordinatorRecord is what gets appended to the coordinator's raft log:
// a message's canonical key bytes, its value bytes (nil for a
// tombstone), and an explicit tombstone flag so an empty value and "no
// value at all" are never ambiguous on the wire.
type CoordinatorRecord struct {
	Key       []byte `protobuf:"bytes,1,opt,name=key,proto3"`
	Value     []byte `protobuf:"bytes,2,opt,name=value,proto3"`
	Tombstone bool   `protobuf:"varint,3,opt,name=tombstone,proto3"`
}

func (*CoordinatorRecord) Reset()         {}
func (*CoordinatorRecord) String() string { return "CoordinatorRecord" }
func (*CoordinatorRecord) ProtoMessage()  {}

func MarshalCoordinatorRecord(rec CoordinatorRecord) ([]byte, error) {
	return proto.Marshal(&rec)
}

func UnmarshalCoordinatorRecord(payload []byte) (CoordinatorRecord, error) {
	var rec CoordinatorRecord
	if err := proto.Unmarshal(payload, &rec); err != nil {
		return CoordinatorRecord{}, err
	}
	return rec, nil
}
