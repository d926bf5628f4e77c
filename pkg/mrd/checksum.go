package mrd

// Checksum computes the Internet checksum (RFC 1071) over b, read as
// big-endian 16-bit words. An odd trailing byte is padded with zero.
//
// Carries are folded until none remain. For the 8-byte MRD messages a
// single fold is always sufficient, so the result matches receivers
// that fold only once.
func Checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 != 0 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
