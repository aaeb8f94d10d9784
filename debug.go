// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsm

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strconv"

	"github.com/fido-device-onboard/go-nsm/cbor/cdn"
)

// maxDebugLen caps the rendered size of a logged message. Attestation
// documents are several kilobytes.
const maxDebugLen = 2048

func debugEnabled() bool {
	return slog.Default().Enabled(context.Background(), slog.LevelDebug)
}

// debugMsg renders an encoded message in diagnostic notation, falling back to
// hex when it is not valid CBOR.
func debugMsg(b []byte) string {
	s, err := cdn.FromCBOR(b)
	if err != nil {
		s = hex.EncodeToString(b)
	}
	if len(s) > maxDebugLen {
		return s[:maxDebugLen] + "...(" + strconv.Itoa(len(b)) + " bytes)"
	}
	return s
}
