package socket

import "crypto/rand"

// autoIdentity mints a local-only ROUTER envelope identity for a peer that
// didn't supply one in its READY metadata, mirroring ZMTP's convention
// that auto-generated identities are distinguishable from user-assigned
// ones by a leading zero byte.
func autoIdentity() []byte {
	id := make([]byte, 5)
	id[0] = 0x00
	_, _ = rand.Read(id[1:])
	return id
}
