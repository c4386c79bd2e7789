package terminal

import (
	"encoding/base64"
	"encoding/binary"
	"unicode/utf16"
)

// wideArgVerbs lists command verbs whose arguments must travel base64-encoded
// over the wire. The beacon runs powershell with -EncodedCommand, which takes
// base64 of the UTF-16LE command text; sending quotes and backslashes as
// plain text would break the remote invocation.
var wideArgVerbs = map[string]bool{
	"powershell": true,
}

// encodeWideArgs encodes s as UTF-16 code units, little-endian, base64.
// The beacon decodes the exact same layout, so this is a wire contract.
func encodeWideArgs(s string) string {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return base64.StdEncoding.EncodeToString(buf)
}
