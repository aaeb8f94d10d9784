// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsm

import "io"

var _ io.Reader = (*Session)(nil)

// Read fills p with entropy from the NSM, issuing as many GetRandom requests
// as needed. It returns len(p) unless an error occurs, so it may be used as
// a crypto/rand style reader.
func (s *Session) Read(p []byte) (n int, err error) {
	for n < len(p) {
		random, err := s.GetRandom()
		if err != nil {
			return n, err
		}
		n += copy(p[n:], random)
	}
	return n, nil
}
