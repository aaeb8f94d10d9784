// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsmtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/fido-device-onboard/go-nsm/cbor"
	"github.com/fido-device-onboard/go-nsm/cose"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

// Simulator defaults, matching a Nitro enclave.
const (
	DefaultMaxPCRs    = 32
	DefaultLockedPCRs = 16
	DefaultRandomSize = 256
	DefaultModuleID   = "i-0123456789abcdef0-enc0123456789abcdef"
)

// Config configures a Simulator. Zero values select defaults.
type Config struct {
	// Digest is the PCR bank hash. The zero value is SHA256. A nil Config
	// selects SHA384, as used by Nitro enclaves.
	Digest protocol.Digest

	// MaxPCRs defaults to 32.
	MaxPCRs uint16

	// LockedPCRs is the size of the range [0, LockedPCRs) locked by
	// firmware. Explicit locks of these indices fail with
	// InvalidOperation. Defaults to 16.
	LockedPCRs uint16

	// RandomSize is the number of bytes returned by GetRandom. Defaults to
	// 256.
	RandomSize int

	ModuleID string
	Version  protocol.Version // defaults to 1.0.0

	// Key signs attestation documents. A P-384 key is generated when nil.
	Key *ecdsa.PrivateKey

	// Now is used for document timestamps. Defaults to time.Now.
	Now func() time.Time
}

type pcr struct {
	locked bool
	value  []byte
}

// Simulator is an in-memory NSM. It holds the authoritative PCR state and
// may be shared by any number of devices and sessions.
type Simulator struct {
	digest   protocol.Digest
	maxPCRs  uint16
	boundary uint16
	randSize int
	moduleID string
	version  protocol.Version
	key      *ecdsa.PrivateKey
	cert     []byte
	now      func() time.Time

	mu        sync.Mutex
	requests  int
	registers []pcr
}

// NewSimulator creates an NSM in its boot state: PCRs 0, 1, 2, and 4 hold
// measurements, the rest are zero, and [0, LockedPCRs) are locked. A nil
// config selects defaults.
func NewSimulator(config *Config) (*Simulator, error) {
	var c Config
	if config != nil {
		c = *config
	}
	if config == nil {
		c.Digest = protocol.SHA384
	}
	if !c.Digest.Valid() {
		return nil, fmt.Errorf("invalid digest %d", c.Digest)
	}
	if c.MaxPCRs == 0 {
		c.MaxPCRs = DefaultMaxPCRs
	}
	if c.LockedPCRs == 0 {
		c.LockedPCRs = DefaultLockedPCRs
	}
	if c.LockedPCRs > c.MaxPCRs {
		return nil, fmt.Errorf("locked PCR range %d exceeds PCR count %d", c.LockedPCRs, c.MaxPCRs)
	}
	if c.RandomSize <= 0 {
		c.RandomSize = DefaultRandomSize
	}
	if c.ModuleID == "" {
		c.ModuleID = DefaultModuleID
	}
	if c.Version == (protocol.Version{}) {
		c.Version = protocol.Version{Major: 1}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Key == nil {
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("error generating signing key: %w", err)
		}
		c.Key = key
	}
	cert, err := selfSigned(c.Key, c.ModuleID, c.Now())
	if err != nil {
		return nil, err
	}

	sim := &Simulator{
		digest:    c.Digest,
		maxPCRs:   c.MaxPCRs,
		boundary:  c.LockedPCRs,
		randSize:  c.RandomSize,
		moduleID:  c.ModuleID,
		version:   c.Version,
		key:       c.Key,
		cert:      cert,
		now:       c.Now,
		registers: make([]pcr, c.MaxPCRs),
	}
	for i := range sim.registers {
		sim.registers[i].value = make([]byte, c.Digest.Size())
		sim.registers[i].locked = uint16(i) < c.LockedPCRs
	}
	for _, i := range []uint16{0, 1, 2, 4} {
		if i >= c.MaxPCRs {
			continue
		}
		sim.registers[i].value = sim.extend(sim.registers[i].value, fmt.Appendf(nil, "boot measurement %d", i))
	}
	return sim, nil
}

func selfSigned(key *ecdsa.PrivateKey, cn string, now time.Time) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		Issuer:                pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(3 * time.Hour),
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("error creating module certificate: %w", err)
	}
	return der, nil
}

// PublicKey is the attestation document signing key.
func (s *Simulator) PublicKey() *ecdsa.PublicKey { return &s.key.PublicKey }

// Requests returns the number of requests handled.
func (s *Simulator) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Handle applies a request to the module state.
func (s *Simulator) Handle(req protocol.Request) *protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	switch req := req.(type) {
	case protocol.DescribeNSM:
		return &protocol.Response{DescribeNSM: s.describe()}

	case protocol.DescribePCR:
		if req.Index >= s.maxPCRs {
			return errorResponse(protocol.InvalidIndex)
		}
		reg := s.registers[req.Index]
		return &protocol.Response{DescribePCR: &protocol.PCRDescription{
			Lock: reg.locked,
			Data: slices.Clone(reg.value),
		}}

	case protocol.ExtendPCR:
		if req.Index >= s.maxPCRs {
			return errorResponse(protocol.InvalidIndex)
		}
		if len(req.Data) > protocol.MaxExtendDataSize {
			return errorResponse(protocol.InputTooLarge)
		}
		reg := &s.registers[req.Index]
		if reg.locked {
			return errorResponse(protocol.ReadOnlyIndex)
		}
		reg.value = s.extend(reg.value, req.Data)
		return &protocol.Response{ExtendPCR: &protocol.ExtendedPCR{Data: slices.Clone(reg.value)}}

	case protocol.LockPCR:
		switch {
		case req.Index >= s.maxPCRs:
			return errorResponse(protocol.InvalidIndex)
		case req.Index < s.boundary:
			return errorResponse(protocol.InvalidOperation)
		case s.registers[req.Index].locked:
			return errorResponse(protocol.ReadOnlyIndex)
		}
		s.registers[req.Index].locked = true
		return &protocol.Response{LockPCR: &protocol.Ack{}}

	case protocol.LockPCRs:
		if req.Range > s.maxPCRs {
			return errorResponse(protocol.InvalidArgument)
		}
		for i := range req.Range {
			s.registers[i].locked = true
		}
		return &protocol.Response{LockPCRs: &protocol.Ack{}}

	case protocol.Attestation:
		for _, field := range [][]byte{req.UserData, req.Nonce, req.PublicKey} {
			if len(field) > protocol.MaxAttestationFieldSize {
				return errorResponse(protocol.InputTooLarge)
			}
		}
		doc, err := s.attest(req)
		if err != nil {
			return errorResponse(protocol.InternalError)
		}
		return &protocol.Response{Attestation: &protocol.AttestationResult{Document: doc}}

	case protocol.GetRandom:
		random := make([]byte, s.randSize)
		if _, err := rand.Read(random); err != nil {
			return errorResponse(protocol.InternalError)
		}
		return &protocol.Response{GetRandom: &protocol.RandomBytes{Random: random}}

	default:
		return errorResponse(protocol.InvalidArgument)
	}
}

// Process handles an encoded request and returns the encoded response. A
// request which cannot be decoded is answered with InvalidArgument.
func (s *Simulator) Process(data []byte) []byte {
	var resp *protocol.Response
	if len(data) > protocol.MaxRequestSize {
		resp = errorResponse(protocol.InputTooLarge)
	} else if req, err := protocol.DecodeRequest(data); err != nil {
		resp = errorResponse(protocol.InvalidArgument)
	} else {
		resp = s.Handle(req)
	}
	out, err := resp.MarshalCBOR()
	if err != nil {
		panic("encoding simulator response: " + err.Error())
	}
	return out
}

func errorResponse(code protocol.ErrorCode) *protocol.Response {
	return &protocol.Response{Error: code}
}

func (s *Simulator) describe() *protocol.NSMDescription {
	var locked []uint16
	for i, reg := range s.registers {
		if reg.locked {
			locked = append(locked, uint16(i))
		}
	}
	return &protocol.NSMDescription{
		VersionMajor: s.version.Major,
		VersionMinor: s.version.Minor,
		VersionPatch: s.version.Patch,
		ModuleID:     s.moduleID,
		MaxPCRs:      s.maxPCRs,
		LockedPCRs:   locked,
		Digest:       s.digest,
	}
}

func (s *Simulator) extend(value, data []byte) []byte {
	h := s.digest.HashFunc().New()
	_, _ = h.Write(value)
	_, _ = h.Write(data)
	return h.Sum(nil)
}

func (s *Simulator) attest(req protocol.Attestation) ([]byte, error) {
	pcrs := make(map[uint64][]byte, len(s.registers))
	for i, reg := range s.registers {
		pcrs[uint64(i)] = slices.Clone(reg.value)
	}
	payload, err := cbor.Marshal(&protocol.AttestationDoc{
		ModuleID:    s.moduleID,
		Digest:      s.digest,
		Timestamp:   uint64(s.now().UnixMilli()),
		PCRs:        pcrs,
		Certificate: s.cert,
		CABundle:    [][]byte{s.cert},
		PublicKey:   req.PublicKey,
		UserData:    req.UserData,
		Nonce:       req.Nonce,
	})
	if err != nil {
		return nil, err
	}
	s1 := cose.Sign1{Payload: payload}
	if err := s1.Sign(s.key, nil); err != nil {
		return nil, err
	}
	return cbor.Marshal(&s1)
}
