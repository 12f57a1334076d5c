package arch

import "encoding/binary"

func byteOrderUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func putByteOrderUint64(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}
