// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package nsm implements a client for the Nitro Secure Module (NSM), the
// secure co-processor available to software running inside a Nitro enclave.
//
// The NSM is reached through the /dev/nsm character device. A [Session] owns
// one open device and exchanges CBOR encoded requests and responses with it.
// The message types and their wire encoding live in the protocol
// subpackage; the Linux ioctl device is in the ioctl subpackage.
//
//	sess, err := nsm.OpenDefault()
//	if err != nil {
//		return err
//	}
//	defer func() { _ = sess.Close() }()
//
//	doc, err := sess.Attestation(userData, nonce, nil)
//
// Failures are returned as errors carrying a [protocol.ErrorCode]. Codes
// reported by the NSM are never rewritten, so callers may branch on them:
//
//	if err := sess.LockPCR(16); errors.Is(err, protocol.ReadOnlyIndex) {
//		// already locked
//	}
//
// The client keeps no copy of PCR or lock state. Every call is a round trip
// to the NSM, which is the only source of truth.
//
// A Session serializes its own requests. Operations block until the device
// call completes and are not cancellable. Use one Session per goroutine to
// issue requests concurrently.
package nsm
