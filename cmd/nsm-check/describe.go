// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
)

func runDescribe() error {
	s, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	desc, err := s.DescribeNSM()
	if err != nil {
		return err
	}
	fmt.Printf("Version:     %s\n", desc.Version())
	fmt.Printf("Module ID:   %s\n", desc.ModuleID)
	fmt.Printf("Digest:      %s\n", desc.Digest)
	fmt.Printf("PCRs:        %d\n", desc.MaxPCRs)
	fmt.Printf("Locked PCRs: %v\n", desc.LockedPCRs)
	for i := range desc.MaxPCRs {
		pcr, err := s.DescribePCR(i)
		if err != nil {
			return fmt.Errorf("PCR %d: %w", i, err)
		}
		lock := " "
		if pcr.Lock {
			lock = "L"
		}
		fmt.Printf("PCR%-2d %s %x\n", i, lock, pcr.Data)
	}
	return nil
}

var randomFlags = flag.NewFlagSet("random", flag.ContinueOnError)

var randomSize int

func init() {
	randomFlags.IntVar(&randomSize, "n", 32, "Number of random `bytes` to print")
}

func runRandom() error {
	if randomSize < 0 {
		return fmt.Errorf("invalid size %d", randomSize)
	}
	s, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	buf := make([]byte, randomSize)
	if _, err := io.ReadFull(s, buf); err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, hex.EncodeToString(buf))
	return err
}
