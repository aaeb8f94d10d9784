// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package check implements NSM conformance scenarios. They run against any
// module in its boot state, real or simulated, and mutate PCR state: once
// the sequence has run, every PCR is locked.
package check

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/cbor"
	"github.com/fido-device-onboard/go-nsm/cose"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

// Expected boot state of a Nitro enclave NSM
const (
	ExpectedMaxPCRs = 32

	// FirmwareLocked is the size of the range [0, FirmwareLocked) locked
	// before the enclave starts.
	FirmwareLocked = 16

	// ExtendIndex is the PCR used by the extend scenario.
	ExtendIndex = 20
)

// measuredPCRs hold boot measurements. All other PCRs start zeroed.
var measuredPCRs = []uint16{0, 1, 2, 4}

// Check is a named conformance scenario.
type Check struct {
	Name string
	Run  func(*nsm.Session) error
}

// Sequence returns the checks in the order they must run. Each check
// relies on the state left by the ones before it.
func Sequence() []Check {
	return []Check{
		{Name: "module description", Run: ModuleDescription},
		{Name: "empty attestation", Run: func(s *nsm.Session) error { return Attestation(s, nil, nil, nil) }},
		{Name: "initial PCR state", Run: InitialPCRs},
		{Name: "extend, lock, reject", Run: ExtendLockReject},
		{Name: "firmware locked PCRs", Run: FirmwareLockedPCRs},
		{Name: "digest length", Run: DigestLength},
		{Name: "out of range lock", Run: OutOfRangeLock},
		{Name: "range lock", Run: RangeLock},
		{Name: "lock monotonicity", Run: LockMonotonicity},
		{Name: "attestation", Run: Attestations},
		{Name: "entropy freshness", Run: EntropyFreshness},
	}
}

// Run executes every check of the sequence, stopping at the first failure.
func Run(s *nsm.Session) error {
	for _, c := range Sequence() {
		if err := c.Run(s); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
		slog.Info("check passed", "name", c.Name)
	}
	return nil
}

// ModuleDescription checks the PCR count, module ID, and initially locked
// PCRs.
func ModuleDescription(s *nsm.Session) error {
	desc, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	slog.Debug("nsm description",
		"version", desc.Version(),
		"module_id", desc.ModuleID,
		"max_pcrs", desc.MaxPCRs,
		"locked_pcrs", desc.LockedPCRs,
		"digest", desc.Digest,
	)
	if desc.MaxPCRs != ExpectedMaxPCRs {
		return fmt.Errorf("PCR count is %d, expected %d", desc.MaxPCRs, ExpectedMaxPCRs)
	}
	if desc.ModuleID == "" {
		return errors.New("module ID is missing")
	}
	if !desc.Digest.Valid() {
		return fmt.Errorf("invalid digest %d", desc.Digest)
	}
	if want := indices(0, FirmwareLocked); !slices.Equal(desc.LockedPCRs, want) {
		return fmt.Errorf("initial locked PCR list is %v, expected %v", desc.LockedPCRs, want)
	}
	return nil
}

// InitialPCRs checks the value and lock state of every PCR at boot.
func InitialPCRs(s *nsm.Session) error {
	desc, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	zero := make([]byte, desc.Digest.Size())
	for i := range desc.MaxPCRs {
		pcr, err := describe(s, desc, i)
		if err != nil {
			return err
		}
		measured := slices.Contains(measuredPCRs, i)
		if measured && bytes.Equal(pcr.Data, zero) {
			return fmt.Errorf("PCR %d must not be empty", i)
		}
		if !measured && !bytes.Equal(pcr.Data, zero) {
			return fmt.Errorf("PCR %d must be empty, got %x", i, pcr.Data)
		}
		if locked := i < FirmwareLocked; pcr.Lock != locked {
			return fmt.Errorf("PCR %d lock state is %t, expected %t", i, pcr.Lock, locked)
		}
	}
	return nil
}

// ExtendLockReject extends an unlocked PCR, locks it, and checks that it can
// no longer be extended.
func ExtendLockReject(s *nsm.Session) error {
	desc, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	before, err := describe(s, desc, ExtendIndex)
	if err != nil {
		return err
	}

	value, err := s.ExtendPCR(ExtendIndex, []byte{1, 2, 3})
	if err != nil {
		return fmt.Errorf("extend PCR %d: %w", ExtendIndex, err)
	}
	if len(value) != desc.Digest.Size() {
		return fmt.Errorf("extended PCR %d is %d bytes, expected %d", ExtendIndex, len(value), desc.Digest.Size())
	}
	if bytes.Equal(value, make([]byte, len(value))) || bytes.Equal(value, before.Data) {
		return fmt.Errorf("PCR %d did not change when extended", ExtendIndex)
	}

	if err := s.LockPCR(ExtendIndex); err != nil {
		return fmt.Errorf("lock PCR %d: %w", ExtendIndex, err)
	}
	if _, err := s.ExtendPCR(ExtendIndex, []byte{1, 2, 3}); !errors.Is(err, protocol.ReadOnlyIndex) {
		return fmt.Errorf("extend of locked PCR %d: expected %v, got %v", ExtendIndex, protocol.ReadOnlyIndex, err)
	}

	after, err := describe(s, desc, ExtendIndex)
	if err != nil {
		return err
	}
	if !after.Lock || !bytes.Equal(after.Data, value) {
		return fmt.Errorf("PCR %d: expected locked with value %x, got locked=%t value %x", ExtendIndex, value, after.Lock, after.Data)
	}
	return nil
}

// FirmwareLockedPCRs checks that PCRs locked at boot cannot be locked again.
func FirmwareLockedPCRs(s *nsm.Session) error {
	for i := range uint16(FirmwareLocked) {
		err := s.LockPCR(i)
		if !errors.Is(err, protocol.InvalidOperation) && !errors.Is(err, protocol.ReadOnlyIndex) {
			return fmt.Errorf("lock of firmware locked PCR %d: expected %v or %v, got %v",
				i, protocol.InvalidOperation, protocol.ReadOnlyIndex, err)
		}
	}
	return nil
}

// DigestLength extends every unlocked PCR repeatedly and checks that every
// value has the length of the module digest.
func DigestLength(s *nsm.Session) error {
	desc, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	zero := make([]byte, desc.Digest.Size())
	for range 10 {
		for i := range desc.MaxPCRs {
			if desc.IsLocked(i) {
				continue
			}
			value, err := s.ExtendPCR(i, []byte{1, 2, 3})
			if err != nil {
				return fmt.Errorf("extend PCR %d: %w", i, err)
			}
			if len(value) != len(zero) {
				return fmt.Errorf("extended PCR %d is %d bytes, expected %d", i, len(value), len(zero))
			}
			if bytes.Equal(value, zero) {
				return fmt.Errorf("PCR %d must not be empty", i)
			}
		}
	}
	for i := range desc.MaxPCRs {
		if _, err := describe(s, desc, i); err != nil {
			return err
		}
	}
	return nil
}

// OutOfRangeLock checks that a range lock past the PCR count fails and leaves
// the locked set unchanged.
func OutOfRangeLock(s *nsm.Session) error {
	before, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	if err := s.LockPCRs(before.MaxPCRs + 1); !errors.Is(err, protocol.InvalidArgument) {
		return fmt.Errorf("lock range [0, %d): expected %v, got %v", before.MaxPCRs+1, protocol.InvalidArgument, err)
	}
	after, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	if !slices.Equal(before.LockedPCRs, after.LockedPCRs) {
		return fmt.Errorf("failed range lock changed locked PCRs from %v to %v", before.LockedPCRs, after.LockedPCRs)
	}
	return nil
}

// RangeLock locks the unlocked PCRs one at a time up to the middle of the
// bank, then the rest with a single range lock.
func RangeLock(s *nsm.Session) error {
	desc, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	half := FirmwareLocked + (desc.MaxPCRs-FirmwareLocked)/2
	for i := uint16(FirmwareLocked); i < half; i++ {
		if desc.IsLocked(i) {
			continue
		}
		if err := s.LockPCR(i); err != nil {
			return fmt.Errorf("lock PCR %d: %w", i, err)
		}
	}
	if err := s.LockPCRs(desc.MaxPCRs); err != nil {
		return fmt.Errorf("lock range [0, %d): %w", desc.MaxPCRs, err)
	}

	after, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	if want := indices(0, desc.MaxPCRs); !slices.Equal(after.LockedPCRs, want) {
		return fmt.Errorf("locked PCRs are %v after range lock, expected %v", after.LockedPCRs, want)
	}
	return nil
}

// LockMonotonicity checks that no locked PCR can be extended or locked
// again, and that failed attempts leave its value unchanged.
func LockMonotonicity(s *nsm.Session) error {
	desc, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	for _, i := range desc.LockedPCRs {
		before, err := describe(s, desc, i)
		if err != nil {
			return err
		}
		if !before.Lock {
			return fmt.Errorf("PCR %d is listed as locked but describes as unlocked", i)
		}

		if _, err := s.ExtendPCR(i, []byte{1, 2, 3}); !errors.Is(err, protocol.ReadOnlyIndex) {
			return fmt.Errorf("extend of locked PCR %d: expected %v, got %v", i, protocol.ReadOnlyIndex, err)
		}
		err = s.LockPCR(i)
		if i >= FirmwareLocked && !errors.Is(err, protocol.ReadOnlyIndex) {
			return fmt.Errorf("lock of locked PCR %d: expected %v, got %v", i, protocol.ReadOnlyIndex, err)
		}
		if err == nil {
			return fmt.Errorf("lock of locked PCR %d succeeded", i)
		}

		after, err := describe(s, desc, i)
		if err != nil {
			return err
		}
		if !after.Lock || !bytes.Equal(before.Data, after.Data) {
			return fmt.Errorf("locked PCR %d changed", i)
		}
	}
	return nil
}

// Attestations requests documents with each combination of maximum size
// inputs used by the runtime test, and checks that oversized inputs are
// rejected.
func Attestations(s *nsm.Session) error {
	data := bytes.Repeat([]byte{128}, protocol.MaxAttestationFieldSize)
	for _, in := range [][3][]byte{
		{nil, nil, nil},
		{data, nil, nil},
		{data, data, nil},
		{data, data, data},
	} {
		if err := Attestation(s, in[0], in[1], in[2]); err != nil {
			return err
		}
	}

	tooLarge := make([]byte, protocol.MaxAttestationFieldSize+1)
	if _, err := s.Attestation(nil, tooLarge, nil); !errors.Is(err, protocol.InputTooLarge) {
		return fmt.Errorf("oversized nonce: expected %v, got %v", protocol.InputTooLarge, err)
	}
	return nil
}

// Attestation requests a single document and checks that it carries the
// inputs. The signature is not verified.
func Attestation(s *nsm.Session, userData, nonce, publicKey []byte) error {
	document, err := s.Attestation(userData, nonce, publicKey)
	if err != nil {
		return err
	}
	if len(document) == 0 {
		return errors.New("attestation document is empty")
	}

	var s1 cose.Sign1
	if err := cbor.Unmarshal(document, &s1); err != nil {
		return fmt.Errorf("attestation document is not COSE_Sign1: %w", err)
	}
	var doc protocol.AttestationDoc
	if err := cbor.Unmarshal(s1.Payload, &doc); err != nil {
		return fmt.Errorf("attestation document payload: %w", err)
	}
	for _, field := range []struct {
		name     string
		got, req []byte
	}{
		{"user data", doc.UserData, userData},
		{"nonce", doc.Nonce, nonce},
		{"public key", doc.PublicKey, publicKey},
	} {
		if !bytes.Equal(field.got, field.req) {
			return fmt.Errorf("attestation document %s is %x, expected %x", field.name, field.got, field.req)
		}
	}
	if len(doc.PCRs) == 0 {
		return errors.New("attestation document has no PCRs")
	}
	return nil
}

// EntropyFreshness checks that successive GetRandom calls differ.
func EntropyFreshness(s *nsm.Session) error {
	var prev []byte
	for range 16 {
		random, err := s.GetRandom()
		if err != nil {
			return err
		}
		if bytes.Equal(random, prev) {
			return fmt.Errorf("GetRandom repeated %x", random)
		}
		prev = random
	}

	buf := make([]byte, 1000)
	if _, err := io.ReadFull(s, buf); err != nil {
		return fmt.Errorf("reading entropy: %w", err)
	}
	return nil
}

func describe(s *nsm.Session, desc *protocol.NSMDescription, i uint16) (*protocol.PCRDescription, error) {
	pcr, err := s.DescribePCR(i)
	if err != nil {
		return nil, fmt.Errorf("describe PCR %d: %w", i, err)
	}
	if len(pcr.Data) != desc.Digest.Size() {
		return nil, fmt.Errorf("PCR %d is %d bytes, expected %d", i, len(pcr.Data), desc.Digest.Size())
	}
	return pcr, nil
}

func indices(from, to uint16) []uint16 {
	var out []uint16
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
