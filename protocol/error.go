// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"fmt"
	"strconv"
)

// ErrorCode is the outcome of an NSM operation. The numbering is part of the
// C ABI and must never change.
//
// ErrorCode implements error so that server-reported failures can be returned
// directly and matched with errors.Is.
type ErrorCode uint32

// Error codes
const (
	// Operation completed successfully. Never sent in an Error response.
	Success ErrorCode = 0

	// A request argument was rejected, for example a range lock beyond the
	// number of PCRs.
	//
	// Requests: LockPCRs, malformed requests of any kind
	InvalidArgument ErrorCode = 1

	// The PCR index is not in [0, max_pcrs).
	//
	// Requests: DescribePCR, ExtendPCR, LockPCR
	InvalidIndex ErrorCode = 2

	// The response could not be decoded, carried an unknown variant, or did
	// not match the request that was sent.
	//
	// Raised locally by the client.
	InvalidResponse ErrorCode = 3

	// The PCR is locked and cannot be extended or locked again.
	//
	// Requests: ExtendPCR, LockPCR
	ReadOnlyIndex ErrorCode = 4

	// The operation is not permitted in the current state, such as explicitly
	// locking a PCR in the firmware pre-locked region.
	//
	// Requests: LockPCR
	InvalidOperation ErrorCode = 5

	// A caller supplied output buffer was too small for the result. The
	// result has been truncated.
	//
	// Raised by the C ABI shim.
	BufferTooSmall ErrorCode = 6

	// An input buffer or the encoded request exceeds the size the NSM
	// accepts.
	//
	// Requests: ExtendPCR, Attestation, any request over MaxRequestSize
	InputTooLarge ErrorCode = 7

	// Something went wrong which couldn't be classified otherwise: device
	// I/O failure, transport loop exhaustion, or use of a closed session.
	InternalError ErrorCode = 8
)

var errorCodeNames = [...]string{
	Success:          "Success",
	InvalidArgument:  "InvalidArgument",
	InvalidIndex:     "InvalidIndex",
	InvalidResponse:  "InvalidResponse",
	ReadOnlyIndex:    "ReadOnlyIndex",
	InvalidOperation: "InvalidOperation",
	BufferTooSmall:   "BufferTooSmall",
	InputTooLarge:    "InputTooLarge",
	InternalError:    "InternalError",
}

// Valid reports whether the code is part of the taxonomy.
func (c ErrorCode) Valid() bool { return int(c) < len(errorCodeNames) }

// String returns the wire name of the code.
func (c ErrorCode) String() string {
	if !c.Valid() {
		return "ErrorCode(" + strconv.FormatUint(uint64(c), 10) + ")"
	}
	return errorCodeNames[c]
}

// Error implements the standard error interface.
func (c ErrorCode) Error() string { return "nsm: " + c.String() }

// ParseErrorCode returns the code with the given wire name.
func ParseErrorCode(name string) (ErrorCode, error) {
	for i, s := range errorCodeNames {
		if s == name {
			return ErrorCode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown error code %q", name)
}
