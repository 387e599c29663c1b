package page

import "encoding/binary"

var byteOrder = binary.LittleEndian
