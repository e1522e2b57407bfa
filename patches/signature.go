// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/driftwood-project/driftwood/lib/metadata"
)

// Signature is a submitter's signature over the patch id (Heads),
// together with the content hash of the identity revision whose key
// produced it. The hash lets the receiver load the signer's identity
// document out of the submitted bundle itself.
type Signature struct {
	Signer    metadata.ContentHash `json:"signer"`
	Signature metadata.Signature   `json:"signature"`
}

// HeaderValue renders the signature for the submission HTTP header:
// "s1=<hex>; s2=<hex>; sd=<hex>".
func (s Signature) HeaderValue() string {
	return fmt.Sprintf("s1=%s; s2=%s; sd=%s",
		hex.EncodeToString(s.Signer.SHA1[:]),
		hex.EncodeToString(s.Signer.SHA2[:]),
		hex.EncodeToString(s.Signature))
}

// ParseSignatureHeader parses the submission header value. Unknown
// fields are ignored; all three known fields are required.
func ParseSignatureHeader(value string) (Signature, error) {
	var (
		out      Signature
		haveSHA1 bool
		haveSHA2 bool
		haveSig  bool
	)
	for _, part := range strings.Split(value, ";") {
		field, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch field {
		case "s1":
			if err := decodeHexInto(out.Signer.SHA1[:], val); err != nil {
				return Signature{}, fmt.Errorf("patches: signature header s1: %w", err)
			}
			haveSHA1 = true
		case "s2":
			if err := decodeHexInto(out.Signer.SHA2[:], val); err != nil {
				return Signature{}, fmt.Errorf("patches: signature header s2: %w", err)
			}
			haveSHA2 = true
		case "sd":
			sig, err := hex.DecodeString(val)
			if err != nil {
				return Signature{}, fmt.Errorf("patches: signature header sd: %w", err)
			}
			out.Signature = metadata.Signature(sig)
			haveSig = true
		}
	}
	switch {
	case !haveSHA1:
		return Signature{}, fmt.Errorf("patches: signature header: missing sha1 identity content hash")
	case !haveSHA2:
		return Signature{}, fmt.Errorf("patches: signature header: missing sha2 identity content hash")
	case !haveSig:
		return Signature{}, fmt.Errorf("patches: signature header: missing signature bytes")
	}
	return out, nil
}
