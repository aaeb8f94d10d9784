// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// nsm-lib builds the NSM C library:
//
//	go build -buildmode=c-shared -o libnsm.so ./cmd/nsm-lib
//
// Every function returning ErrorCode uses the stable numbering of the
// protocol package, with ERROR_CODE_SUCCESS = 0.
package main

/*
#include <stdbool.h>
#include <stddef.h>
#include <stdint.h>

typedef enum {
	DIGEST_SHA256 = 0,
	DIGEST_SHA384 = 1,
	DIGEST_SHA512 = 2,
} Digest;

typedef struct {
	uint16_t version_major;
	uint16_t version_minor;
	uint16_t version_patch;
	uint8_t module_id[100];
	uint32_t module_id_len;
	uint16_t max_pcrs;
	uint16_t locked_pcrs[64];
	uint32_t locked_pcrs_len;
	Digest digest;
} NsmDescription;
*/
import "C"

import (
	"unsafe"

	"github.com/fido-device-onboard/go-nsm/capi"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

var lib capi.Library

func main() {}

// input converts a C buffer to a slice. A NULL pointer is an absent input.
func input(p *C.uint8_t, n C.uint32_t) []byte {
	if p == nil {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(n))
}

// output aliases a caller provided C buffer.
func output(p *C.uint8_t, n *C.uint32_t) []byte {
	if p == nil || n == nil || *n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(*n))
}

func status(code protocol.ErrorCode) C.int { return C.int(code) }

//export nsm_lib_init
func nsm_lib_init() C.int32_t { return C.int32_t(lib.Init()) }

//export nsm_lib_exit
func nsm_lib_exit(fd C.int32_t) { lib.Exit(int32(fd)) }

//export nsm_get_description
func nsm_get_description(fd C.int32_t, out *C.NsmDescription) C.int {
	if out == nil {
		return status(protocol.InvalidArgument)
	}
	var desc capi.Description
	if code := lib.GetDescription(int32(fd), &desc); code != protocol.Success {
		return status(code)
	}

	out.version_major = C.uint16_t(desc.VersionMajor)
	out.version_minor = C.uint16_t(desc.VersionMinor)
	out.version_patch = C.uint16_t(desc.VersionPatch)
	for i, b := range desc.ModuleID {
		out.module_id[i] = C.uint8_t(b)
	}
	out.module_id_len = C.uint32_t(desc.ModuleIDLen)
	out.max_pcrs = C.uint16_t(desc.MaxPCRs)
	for i, index := range desc.LockedPCRs {
		out.locked_pcrs[i] = C.uint16_t(index)
	}
	out.locked_pcrs_len = C.uint32_t(desc.LockedPCRsLen)
	out.digest = C.Digest(desc.Digest)
	return status(protocol.Success)
}

//export nsm_get_attestation_doc
func nsm_get_attestation_doc(fd C.int32_t,
	nonce *C.uint8_t, nonceLen C.uint32_t,
	publicKey *C.uint8_t, publicKeyLen C.uint32_t,
	userData *C.uint8_t, userDataLen C.uint32_t,
	doc *C.uint8_t, docLen *C.uint32_t,
) C.int {
	if docLen == nil {
		return status(protocol.InvalidArgument)
	}
	n, code := lib.GetAttestationDoc(int32(fd),
		input(nonce, nonceLen),
		input(publicKey, publicKeyLen),
		input(userData, userDataLen),
		output(doc, docLen))
	*docLen = C.uint32_t(n)
	return status(code)
}

//export nsm_describe_pcr
func nsm_describe_pcr(fd C.int32_t, index C.uint16_t, lock *C.bool, data *C.uint8_t, dataLen *C.uint32_t) C.int {
	if lock == nil || dataLen == nil {
		return status(protocol.InvalidArgument)
	}
	var locked bool
	n, code := lib.DescribePCR(int32(fd), uint16(index), &locked, output(data, dataLen))
	*dataLen = C.uint32_t(n)
	*lock = C.bool(locked)
	return status(code)
}

//export nsm_extend_pcr
func nsm_extend_pcr(fd C.int32_t, index C.uint16_t, data *C.uint8_t, dataLen C.uint32_t, pcrData *C.uint8_t, pcrDataLen *C.uint32_t) C.int {
	if pcrDataLen == nil {
		return status(protocol.InvalidArgument)
	}
	n, code := lib.ExtendPCR(int32(fd), uint16(index), input(data, dataLen), output(pcrData, pcrDataLen))
	*pcrDataLen = C.uint32_t(n)
	return status(code)
}

//export nsm_lock_pcr
func nsm_lock_pcr(fd C.int32_t, index C.uint16_t) C.int {
	return status(lib.LockPCR(int32(fd), uint16(index)))
}

//export nsm_lock_pcrs
func nsm_lock_pcrs(fd C.int32_t, upTo C.uint16_t) C.int {
	return status(lib.LockPCRs(int32(fd), uint16(upTo)))
}

//export nsm_get_random
func nsm_get_random(fd C.int32_t, buf *C.uint8_t, bufLen *C.size_t) C.int {
	if buf == nil || bufLen == nil || *bufLen == 0 {
		return status(protocol.InvalidArgument)
	}
	out := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(*bufLen))
	n, code := lib.GetRandom(int32(fd), out)
	*bufLen = C.size_t(n)
	return status(code)
}
