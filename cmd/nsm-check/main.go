// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// nsm-check exercises the Nitro Secure Module from inside an enclave.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/ioctl"
)

var flags = flag.NewFlagSet("root", flag.ContinueOnError)

var (
	debug      bool
	devicePath string
)

func init() {
	flags.BoolVar(&debug, "debug", false, "Print NSM messages")
	flags.StringVar(&devicePath, "device", ioctl.DefaultPath, "NSM device `path`")
}

func usage() {
	fmt.Fprintf(os.Stderr, `
Usage:
  nsm-check [options] [check|stress|describe|attest|random] [--] [subcommand options]

Options:
%s
Check runs the conformance sequence. It locks every PCR and can only pass
once per enclave boot.

Stress options:
%s
Attest options:
%s
Random options:
%s`, options(flags), options(stressFlags), options(attestFlags), options(randomFlags))
}

func options(flags *flag.FlagSet) string {
	var nameSize int
	flags.VisitAll(func(f *flag.Flag) {
		if len(f.Name) > nameSize {
			nameSize = len(f.Name)
		}
	})
	if nameSize < 4 {
		nameSize = 4
	}
	nameSize++

	var out string
	flags.VisitAll(func(f *flag.Flag) {
		out += fmt.Sprintf("  -%s%s%s\n", f.Name, strings.Repeat(" ", nameSize-len(f.Name)), f.Usage)
	})
	return out
}

func open() (*nsm.Session, error) { return nsm.Open(devicePath, nil) }

func main() {
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(1)
	}
	setupLogging(debug)

	sub := flags.Arg(0)
	var args []string
	if flags.NArg() > 1 {
		args = flags.Args()[1:]
		if flags.Arg(1) == "--" {
			args = flags.Args()[2:]
		}
	}

	var (
		subFlags *flag.FlagSet
		run      func() error
	)
	switch sub {
	case "check", "":
		run = runCheck
	case "stress":
		subFlags, run = stressFlags, runStress
	case "describe", "d":
		run = runDescribe
	case "attest", "a":
		subFlags, run = attestFlags, runAttest
	case "random", "r":
		subFlags, run = randomFlags, runRandom
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		usage()
		os.Exit(1)
	}

	if subFlags != nil {
		if err := subFlags.Parse(args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			usage()
			os.Exit(1)
		}
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s error: %v\n", sub, err)
		os.Exit(2)
	}
}
