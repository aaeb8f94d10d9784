// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package capi implements the semantics of the NSM C library on top of
// sessions: integer descriptors instead of handles, caller provided output
// buffers, and status codes instead of errors. The cgo exports in
// cmd/nsm-lib are thin wrappers around a Library.
package capi

import (
	"log/slog"
	"sync"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

// Sizes of the fixed arrays in the C description struct
const (
	ModuleIDSize   = 100
	LockedPCRsSize = 64
)

// Description mirrors the NsmDescription struct of the C library.
type Description struct {
	VersionMajor  uint16
	VersionMinor  uint16
	VersionPatch  uint16
	ModuleID      [ModuleIDSize]byte
	ModuleIDLen   uint32
	MaxPCRs       uint16
	LockedPCRs    [LockedPCRsSize]uint16
	LockedPCRsLen uint32
	Digest        protocol.Digest
}

// Library maps descriptors to open sessions. The zero value opens /dev/nsm.
type Library struct {
	// Open creates the session behind a new descriptor. Defaults to
	// nsm.OpenDefault.
	Open func() (*nsm.Session, error)

	mu       sync.Mutex
	next     int32
	sessions map[int32]*nsm.Session
}

// Init opens a session and returns its descriptor, or -1 on failure.
func (l *Library) Init() int32 {
	open := l.Open
	if open == nil {
		open = nsm.OpenDefault
	}
	s, err := open()
	if err != nil {
		slog.Error("nsm library init failed", "error", err)
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessions == nil {
		l.sessions = make(map[int32]*nsm.Session)
	}
	fd := l.next
	l.next++
	l.sessions[fd] = s
	return fd
}

// Exit closes the session of a descriptor. Unknown descriptors are ignored.
func (l *Library) Exit(fd int32) {
	l.mu.Lock()
	s, ok := l.sessions[fd]
	delete(l.sessions, fd)
	l.mu.Unlock()

	if !ok {
		slog.Warn("nsm library exit with unknown descriptor", "fd", fd)
		return
	}
	if err := s.Close(); err != nil {
		slog.Error("nsm library exit failed", "fd", fd, "error", err)
	}
}

func (l *Library) session(fd int32) (*nsm.Session, protocol.ErrorCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[fd]
	if !ok {
		return nil, protocol.InternalError
	}
	return s, protocol.Success
}

// GetDescription fills out with the module description. A module ID or
// locked PCR list longer than the C arrays is truncated.
func (l *Library) GetDescription(fd int32, out *Description) protocol.ErrorCode {
	if out == nil {
		return protocol.InvalidArgument
	}
	s, code := l.session(fd)
	if code != protocol.Success {
		return code
	}
	desc, err := s.DescribeNSM()
	if err != nil {
		return nsm.CodeOf(err)
	}

	*out = Description{
		VersionMajor: desc.VersionMajor,
		VersionMinor: desc.VersionMinor,
		VersionPatch: desc.VersionPatch,
		MaxPCRs:      desc.MaxPCRs,
		Digest:       desc.Digest,
	}
	out.ModuleIDLen = uint32(copy(out.ModuleID[:], desc.ModuleID))
	out.LockedPCRsLen = uint32(copy(out.LockedPCRs[:], desc.LockedPCRs))
	return protocol.Success
}

// GetAttestationDoc requests an attestation document into out and returns
// its length. A nil input is absent from the document, while an empty
// non-nil input is present and empty.
func (l *Library) GetAttestationDoc(fd int32, nonce, publicKey, userData, out []byte) (uint32, protocol.ErrorCode) {
	s, code := l.session(fd)
	if code != protocol.Success {
		return 0, code
	}
	doc, err := s.Attestation(userData, nonce, publicKey)
	if err != nil {
		return 0, nsm.CodeOf(err)
	}
	return fill(out, doc)
}

// DescribePCR returns the lock state of a PCR and copies its value into
// out.
func (l *Library) DescribePCR(fd int32, index uint16, lock *bool, out []byte) (uint32, protocol.ErrorCode) {
	if lock == nil {
		return 0, protocol.InvalidArgument
	}
	s, code := l.session(fd)
	if code != protocol.Success {
		return 0, code
	}
	pcr, err := s.DescribePCR(index)
	if err != nil {
		return 0, nsm.CodeOf(err)
	}
	*lock = pcr.Lock
	return fill(out, pcr.Data)
}

// ExtendPCR extends a PCR and copies the new value into out.
func (l *Library) ExtendPCR(fd int32, index uint16, data, out []byte) (uint32, protocol.ErrorCode) {
	s, code := l.session(fd)
	if code != protocol.Success {
		return 0, code
	}
	value, err := s.ExtendPCR(index, data)
	if err != nil {
		return 0, nsm.CodeOf(err)
	}
	return fill(out, value)
}

// LockPCR locks a single PCR.
func (l *Library) LockPCR(fd int32, index uint16) protocol.ErrorCode {
	s, code := l.session(fd)
	if code != protocol.Success {
		return code
	}
	return nsm.CodeOf(s.LockPCR(index))
}

// LockPCRs locks PCRs [0, upTo).
func (l *Library) LockPCRs(fd int32, upTo uint16) protocol.ErrorCode {
	s, code := l.session(fd)
	if code != protocol.Success {
		return code
	}
	return nsm.CodeOf(s.LockPCRs(upTo))
}

// GetRandom copies up to len(out) random bytes into out and returns the
// number copied. Unlike the other calls, a short buffer is not an error.
func (l *Library) GetRandom(fd int32, out []byte) (uint32, protocol.ErrorCode) {
	if out == nil {
		return 0, protocol.InvalidArgument
	}
	s, code := l.session(fd)
	if code != protocol.Success {
		return 0, code
	}
	random, err := s.GetRandom()
	if err != nil {
		return 0, nsm.CodeOf(err)
	}
	return uint32(copy(out, random)), protocol.Success
}

// fill copies as much of result as fits into out, failing with
// BufferTooSmall if it was truncated.
func fill(out, result []byte) (uint32, protocol.ErrorCode) {
	n := uint32(copy(out, result))
	if int(n) < len(result) {
		return n, protocol.BufferTooSmall
	}
	return n, protocol.Success
}
