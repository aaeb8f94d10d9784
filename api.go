// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsm

import (
	"fmt"

	"github.com/fido-device-onboard/go-nsm/protocol"
)

// DescribeNSM returns the module version, identity, PCR count, locked PCRs,
// and digest algorithm.
func (s *Session) DescribeNSM() (*protocol.NSMDescription, error) {
	resp, err := s.Send(protocol.DescribeNSM{})
	if err != nil {
		return nil, err
	}
	return resp.DescribeNSM, nil
}

// DescribePCR returns the lock state and value of a PCR. An index beyond the
// module's PCR count fails with InvalidIndex from the NSM.
func (s *Session) DescribePCR(index uint16) (*protocol.PCRDescription, error) {
	resp, err := s.Send(protocol.DescribePCR{Index: index})
	if err != nil {
		return nil, err
	}
	return resp.DescribePCR, nil
}

// ExtendPCR extends a PCR with data and returns its new value.
//
// Data larger than protocol.MaxExtendDataSize fails with InputTooLarge before
// any device I/O. The bound is enforced by this client; the driver itself
// only bounds the encoded request. The NSM rejects out of range indices with InvalidIndex and
// locked PCRs with ReadOnlyIndex.
func (s *Session) ExtendPCR(index uint16, data []byte) ([]byte, error) {
	if len(data) > protocol.MaxExtendDataSize {
		return nil, fmt.Errorf("%w: extend data is %d bytes, max %d",
			protocol.InputTooLarge, len(data), protocol.MaxExtendDataSize)
	}
	resp, err := s.Send(protocol.ExtendPCR{Index: index, Data: data})
	if err != nil {
		return nil, err
	}
	return resp.ExtendPCR.Data, nil
}

// LockPCR locks a PCR against further extension. Locking is permanent.
//
// The NSM fails with ReadOnlyIndex if the PCR is already locked,
// InvalidOperation for PCRs locked by firmware, and InvalidIndex when out of
// range.
func (s *Session) LockPCR(index uint16) error {
	_, err := s.Send(protocol.LockPCR{Index: index})
	return err
}

// LockPCRs locks every PCR in [0, upTo). Either all are locked or none are.
// The NSM fails with InvalidArgument if upTo exceeds the PCR count.
func (s *Session) LockPCRs(upTo uint16) error {
	_, err := s.Send(protocol.LockPCRs{Range: upTo})
	return err
}

// Attestation requests a signed attestation document. Each of userData,
// nonce, and publicKey is optional (nil is absent) and bounded by
// protocol.MaxAttestationFieldSize. The document is returned as is.
func (s *Session) Attestation(userData, nonce, publicKey []byte) ([]byte, error) {
	for _, field := range []struct {
		name string
		data []byte
	}{
		{"user data", userData},
		{"nonce", nonce},
		{"public key", publicKey},
	} {
		if len(field.data) > protocol.MaxAttestationFieldSize {
			return nil, fmt.Errorf("%w: attestation %s is %d bytes, max %d",
				protocol.InputTooLarge, field.name, len(field.data), protocol.MaxAttestationFieldSize)
		}
	}

	resp, err := s.Send(protocol.Attestation{
		UserData:  userData,
		Nonce:     nonce,
		PublicKey: publicKey,
	})
	if err != nil {
		return nil, err
	}
	return resp.Attestation.Document, nil
}

// GetRandom returns entropy from the NSM. The length is chosen by the NSM;
// use Read to fill a buffer of a given size.
func (s *Session) GetRandom() ([]byte, error) {
	resp, err := s.Send(protocol.GetRandom{})
	if err != nil {
		return nil, err
	}
	if len(resp.GetRandom.Random) == 0 {
		return nil, fmt.Errorf("%w: GetRandom returned no data", protocol.InvalidResponse)
	}
	return resp.GetRandom.Random, nil
}
