// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package check

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

// Stress runs attestation and PCR traffic from concurrent sessions, each
// opened with open, for the given number of loops. Extensions target
// firmware locked PCRs, so the module state is not changed.
func Stress(open func() (*nsm.Session, error), sessions, loops int) error {
	var g errgroup.Group
	for n := range sessions {
		g.Go(func() error {
			s, err := open()
			if err != nil {
				return fmt.Errorf("session %d: %w", n, err)
			}
			defer func() { _ = s.Close() }()

			for loop := range loops {
				if err := stressLoop(s, n*loops+loop); err != nil {
					return fmt.Errorf("session %d loop %d: %w", n, loop, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func stressLoop(s *nsm.Session, j int) error {
	data := bytes.Repeat([]byte{128}, protocol.MaxAttestationFieldSize)
	for _, in := range [][3][]byte{
		{nil, nil, nil},
		{data, nil, nil},
		{data, data, nil},
		{data, data, data},
	} {
		start := time.Now()
		if err := Attestation(s, in[0], in[1], in[2]); err != nil {
			return err
		}
		slog.Debug("attestation", "loop", j, "inputs", len(in[0])+len(in[1])+len(in[2]), "took", time.Since(start))
	}

	index := uint16(j % FirmwareLocked)
	for range 2 {
		if _, err := s.ExtendPCR(index, binary.BigEndian.AppendUint32(nil, uint32(j))); !errors.Is(err, protocol.ReadOnlyIndex) {
			return fmt.Errorf("extend of firmware locked PCR %d: expected %v, got %v", index, protocol.ReadOnlyIndex, err)
		}
	}
	return nil
}
