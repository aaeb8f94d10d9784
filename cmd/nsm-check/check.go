// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"errors"
	"flag"
	"log/slog"
	"time"

	"github.com/fido-device-onboard/go-nsm/internal/check"
)

func runCheck() error {
	s, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	start := time.Now()
	if err := check.Run(s); err != nil {
		return err
	}
	slog.Info("NSM check finished", "took", time.Since(start))
	return nil
}

var stressFlags = flag.NewFlagSet("stress", flag.ContinueOnError)

var (
	sessions int
	loops    int
)

func init() {
	stressFlags.IntVar(&sessions, "sessions", 8, "Number of concurrent `sessions`")
	stressFlags.IntVar(&loops, "loops", 100, "Attestation `loops` per session")
}

func runStress() error {
	if sessions < 1 || loops < 1 {
		return errors.New("sessions and loops must be positive")
	}
	start := time.Now()
	if err := check.Stress(open, sessions, loops); err != nil {
		return err
	}
	slog.Info("NSM stress finished", "sessions", sessions, "loops", loops, "took", time.Since(start))
	return nil
}
