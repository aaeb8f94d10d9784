// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsmtest

import (
	"testing"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/internal/check"
)

// OpenFunc opens a session to a module in its boot state.
type OpenFunc func(t *testing.T) *nsm.Session

// RunSessionTestSuite runs the conformance sequence against a module. The
// sequence mutates state, so each check runs as a subtest in order and the
// suite stops at the first failure.
//
// If open is nil, then a default Simulator will be used.
func RunSessionTestSuite(t *testing.T, open OpenFunc) {
	SetDebugLog(t)

	if open == nil {
		open = func(t *testing.T) *nsm.Session {
			sim, err := NewSimulator(nil)
			if err != nil {
				t.Fatal(err)
			}
			return nsm.New(sim.Open(), nil)
		}
	}

	s := open(t)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	})

	for _, c := range check.Sequence() {
		if !t.Run(c.Name, func(t *testing.T) {
			if err := c.Run(s); err != nil {
				t.Fatal(err)
			}
		}) {
			t.FailNow()
		}
	}
}
