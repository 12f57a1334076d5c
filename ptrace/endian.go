package ptrace

import "encoding/binary"

// byteOrder is little-endian on every architecture this core supports
// (x86_64 and AArch64 in its standard Linux configuration).
var byteOrder = binary.LittleEndian
