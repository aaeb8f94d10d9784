// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/fido-device-onboard/go-nsm/cbor"
	"github.com/fido-device-onboard/go-nsm/cbor/cdn"
	"github.com/fido-device-onboard/go-nsm/cose"
)

var attestFlags = flag.NewFlagSet("attest", flag.ContinueOnError)

var (
	nonceHex     string
	userData     string
	publicKeyHex string
	docPath      string
)

func init() {
	attestFlags.StringVar(&nonceHex, "nonce", "", "Nonce to include in the document, as `hex`")
	attestFlags.StringVar(&userData, "user-data", "", "User data to include in the document")
	attestFlags.StringVar(&publicKeyHex, "public-key", "", "Public key to include in the document, as `hex`")
	attestFlags.StringVar(&docPath, "out", "", "Write the document to `file` instead of printing its payload")
}

func runAttest() error {
	nonce, err := optionalHex(nonceHex)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	publicKey, err := optionalHex(publicKeyHex)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	var data []byte
	if userData != "" {
		data = []byte(userData)
	}

	s, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	doc, err := s.Attestation(data, nonce, publicKey)
	if err != nil {
		return err
	}
	if docPath != "" {
		return os.WriteFile(docPath, doc, 0o600)
	}

	var s1 cose.Sign1
	if err := cbor.Unmarshal(doc, &s1); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	payload, err := cdn.FromCBOR(s1.Payload)
	if err != nil {
		return fmt.Errorf("rendering document payload: %w", err)
	}
	alg, _ := s1.Algorithm()
	fmt.Printf("Algorithm: %s\nSignature: %x\nPayload:   %s\n", alg, s1.Signature, payload)
	return nil
}

func optionalHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
