package ntp

import "encoding/binary"

const (
	requestPoll      int8 = 6
	requestPrecision int8 = -20 // 0xEC
)

// requestRefID is written to the reference identifier of every client request.
var requestRefID = [4]byte{49, 0x4E, 49, 52}

// PutRequest writes the fixed client request into dst[:SizeHeader] and returns
// the amount of bytes written. The whole header is overwritten so dst may hold a previous reply.
// The request carries no origin timestamp: replies are not matched against it.
func PutRequest(dst []byte) (int, error) {
	frm, err := NewFrame(dst)
	if err != nil {
		return 0, err
	}
	frm.ClearHeader()
	frm.SetFlags(ModeClient, Version4, LeapNotSync)
	frm.SetStratum(StratumUnspecified)
	frm.SetPoll(requestPoll)
	frm.SetPrecision(requestPrecision)
	*frm.ReferenceID() = requestRefID
	return SizeHeader, nil
}

// EncodeRequest returns the fixed 48 byte client request. It is identical on every call.
func EncodeRequest() (req [SizeHeader]byte) {
	PutRequest(req[:])
	return req
}

// DecodeReplyEpochSeconds returns the integer seconds since the Unix epoch held in the
// transmit timestamp of a server reply. No other field is inspected so any complete
// 48 byte buffer decodes to some value; see [Frame.ValidateReply] for stricter checks.
func DecodeReplyEpochSeconds(buf *[SizeHeader]byte) uint32 {
	secsSince1900 := binary.BigEndian.Uint32(buf[40:44])
	return secsSince1900 - UnixEraOffset
}
