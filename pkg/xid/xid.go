package xid

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NoFormatID marks a Xid that carries a free-form transaction name rather
// than the encoded three-part form. Such a Xid keeps the whole server-visible
// name verbatim in Gtrid and has no branch qualifier.
const NoFormatID = -1

// MaxPayloadLen is the longest gtrid or bqual payload accepted for an
// encoded Xid.
const MaxPayloadLen = 64

// MaxNameLen is the server's hard limit on a prepared-transaction name.
// The codec never enforces it; it is documented here for callers that do.
const MaxNameLen = 199

// Xid is a global transaction identifier: a format id, a global transaction
// id and a branch qualifier. A Xid with FormatID == NoFormatID is "unparsed":
// Gtrid holds an arbitrary transaction name that did not match the encoded
// grammar, and Bqual is empty.
type Xid struct {
	FormatID int64
	Gtrid    string
	Bqual    string
}

// New builds an encodable Xid. The format id must be non-negative and both
// payloads at most MaxPayloadLen bytes.
func New(formatID int64, gtrid, bqual string) (Xid, error) {
	if formatID < 0 {
		return Xid{}, fmt.Errorf("format id must be non-negative, got %d", formatID)
	}
	if len(gtrid) > MaxPayloadLen {
		return Xid{}, fmt.Errorf("gtrid too long: %d bytes (max %d)", len(gtrid), MaxPayloadLen)
	}
	if len(bqual) > MaxPayloadLen {
		return Xid{}, fmt.Errorf("bqual too long: %d bytes (max %d)", len(bqual), MaxPayloadLen)
	}
	return Xid{FormatID: formatID, Gtrid: gtrid, Bqual: bqual}, nil
}

// Unparsed wraps a raw transaction name in a Xid without interpreting it.
func Unparsed(name string) Xid {
	return Xid{FormatID: NoFormatID, Gtrid: name}
}

// Random returns a fresh encodable Xid with uuid-generated gtrid and bqual.
// The result always fits both the payload limits and the server name limit.
func Random(formatID int64) Xid {
	if formatID < 0 {
		formatID = 0
	}
	return Xid{
		FormatID: formatID,
		Gtrid:    uuid.New().String(),
		Bqual:    uuid.New().String(),
	}
}

// Parsed reports whether the Xid carries the encoded three-part form.
func (x Xid) Parsed() bool {
	return x.FormatID != NoFormatID
}

// Encode produces the server-visible transaction name for an encoded Xid:
// "<formatID>_<base64(gtrid)>_<base64(bqual)>". The payloads are base64 first,
// so the underscore separators never collide with payload bytes.
func Encode(formatID int64, gtrid, bqual string) string {
	return fmt.Sprintf("%d_%s_%s",
		formatID,
		base64.StdEncoding.EncodeToString([]byte(gtrid)),
		base64.StdEncoding.EncodeToString([]byte(bqual)))
}

// FromString interprets a server-visible transaction name. Names matching the
// encoded grammar (exactly three underscore-separated fields: a non-negative
// decimal, then two valid base64 payloads) decode to a parsed Xid. Anything
// else, including names not produced by this client, comes back as an
// unparsed Xid holding the original string verbatim. FromString never fails.
func FromString(name string) Xid {
	parts := strings.Split(name, "_")
	if len(parts) != 3 {
		return Unparsed(name)
	}
	formatID, err := strconv.ParseUint(parts[0], 10, 63)
	if err != nil {
		return Unparsed(name)
	}
	gtrid, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return Unparsed(name)
	}
	bqual, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return Unparsed(name)
	}
	return Xid{FormatID: int64(formatID), Gtrid: string(gtrid), Bqual: string(bqual)}
}

// String returns the server-visible transaction name: the encoded form for a
// parsed Xid, the verbatim original name for an unparsed one.
func (x Xid) String() string {
	if !x.Parsed() {
		return x.Gtrid
	}
	return Encode(x.FormatID, x.Gtrid, x.Bqual)
}

// Sort orders Xids by gtrid for deterministic enumeration.
func Sort(xids []Xid) {
	sort.Slice(xids, func(i, j int) bool {
		return xids[i].Gtrid < xids[j].Gtrid
	})
}
