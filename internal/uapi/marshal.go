package uapi

import "encoding/binary"

// AddrSize is the wire size, in bytes, of a marshaled Addr.
const AddrSize = 8

// ZoneDescriptorSize is the wire size, in bytes, of a marshaled ZoneDescriptor.
const ZoneDescriptorSize = AddrSize + 8 + 8 + 1

// MarshalAddr encodes an Addr as its packed 64-bit little-endian form.
func MarshalAddr(a Addr) []byte {
	buf := make([]byte, AddrSize)
	binary.LittleEndian.PutUint64(buf, a.Raw())
	return buf
}

// UnmarshalAddr decodes a packed Addr produced by MarshalAddr.
func UnmarshalAddr(data []byte) (Addr, error) {
	if len(data) < AddrSize {
		return Addr{}, ErrShortBuffer
	}
	return AddrFromRaw(binary.LittleEndian.Uint64(data)), nil
}

// MarshalZoneDescriptor encodes a ZoneDescriptor for the wire/snapshot format
// a persistent zone report would use (spec.md's ZMD is explicitly volatile;
// this exists so a durability extension has a ready serialization to build on).
func MarshalZoneDescriptor(d ZoneDescriptor) []byte {
	buf := make([]byte, ZoneDescriptorSize)
	binary.LittleEndian.PutUint64(buf[0:8], d.Addr.Raw())
	binary.LittleEndian.PutUint64(buf[8:16], d.Capacity)
	binary.LittleEndian.PutUint64(buf[16:24], d.WritePointer)
	buf[24] = byte(d.State)
	return buf
}

// UnmarshalZoneDescriptor decodes a ZoneDescriptor produced by
// MarshalZoneDescriptor.
func UnmarshalZoneDescriptor(data []byte) (ZoneDescriptor, error) {
	if len(data) < ZoneDescriptorSize {
		return ZoneDescriptor{}, ErrShortBuffer
	}
	return ZoneDescriptor{
		Addr:         AddrFromRaw(binary.LittleEndian.Uint64(data[0:8])),
		Capacity:     binary.LittleEndian.Uint64(data[8:16]),
		WritePointer: binary.LittleEndian.Uint64(data[16:24]),
		State:        ZoneState(data[24]),
	}, nil
}

// MarshalError reports a malformed buffer passed to an Unmarshal function.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

// ErrShortBuffer is returned when an Unmarshal function is given fewer
// bytes than its fixed-size encoding requires.
const ErrShortBuffer MarshalError = "uapi: short buffer"
