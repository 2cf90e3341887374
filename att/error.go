package att

// Error is an attribute-protocol error code reported by the peripheral in
// an Error Response. [Vol 3, Part F, 3.4.1.1]
type Error byte

const (
	ErrSuccess           Error = 0x00 // the operation succeeded
	ErrInvalidHandle     Error = 0x01 // the attribute handle given was not valid on this server
	ErrReadNotPerm       Error = 0x02 // the attribute cannot be read
	ErrWriteNotPerm      Error = 0x03 // the attribute cannot be written
	ErrInvalidPDU        Error = 0x04 // the attribute PDU was invalid
	ErrAuthentication    Error = 0x05 // the attribute requires authentication
	ErrReqNotSupp        Error = 0x06 // the server does not support the request
	ErrInvalidOffset     Error = 0x07 // the offset was past the end of the attribute
	ErrAuthorization     Error = 0x08 // the attribute requires authorization
	ErrPrepQueueFull     Error = 0x09 // too many prepare writes have been queued
	ErrAttrNotFound      Error = 0x0a // no attribute found within the given handle range
	ErrAttrNotLong       Error = 0x0b // the attribute cannot be read with a Read Blob Request
	ErrInsuffEncrKeySize Error = 0x0c // the encryption key size on this link is insufficient
	ErrInvalAttrValueLen Error = 0x0d // the value length is invalid for the operation
	ErrUnlikely          Error = 0x0e // the request hit an unlikely error
	ErrInsuffEnc         Error = 0x0f // the attribute requires encryption
	ErrUnsuppGrpType     Error = 0x10 // the attribute type is not a supported grouping attribute
	ErrInsuffResources   Error = 0x11 // insufficient resources to complete the request
)

func (e Error) Error() string {
	switch i := int(e); {
	case i <= 0x11:
		return errName[e]
	case i >= 0x80 && i <= 0x9F:
		return "application error"
	case i >= 0xE0: // common profile and service error codes
		return "profile or service error"
	default:
		return "reserved error code"
	}
}

var errName = map[Error]string{
	ErrSuccess:           "success",
	ErrInvalidHandle:     "invalid handle",
	ErrReadNotPerm:       "read not permitted",
	ErrWriteNotPerm:      "write not permitted",
	ErrInvalidPDU:        "invalid PDU",
	ErrAuthentication:    "insufficient authentication",
	ErrReqNotSupp:        "request not supported",
	ErrInvalidOffset:     "invalid offset",
	ErrAuthorization:     "insufficient authorization",
	ErrPrepQueueFull:     "prepare queue full",
	ErrAttrNotFound:      "attribute not found",
	ErrAttrNotLong:       "attribute not long",
	ErrInsuffEncrKeySize: "insufficient encryption key size",
	ErrInvalAttrValueLen: "invalid attribute value length",
	ErrUnlikely:          "unlikely error",
	ErrInsuffEnc:         "insufficient encryption",
	ErrUnsuppGrpType:     "unsupported group type",
	ErrInsuffResources:   "insufficient resources",
}
