// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"bytes"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/driftwood-project/driftwood/lib/metadata"
)

// AgentSigner signs through a running ssh-agent, so the private key
// never touches this process.
type AgentSigner struct {
	client agent.Agent
	pub    ssh.PublicKey
}

// FromAgent connects to the agent at sock (or $SSH_AUTH_SOCK when
// sock is empty) and selects the key matching pub. With pub nil the
// agent's first key is used.
func FromAgent(sock string, pub ssh.PublicKey) (*AgentSigner, error) {
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	if sock == "" {
		return nil, fmt.Errorf("signer: no ssh-agent socket (SSH_AUTH_SOCK unset)")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("signer: connect agent: %w", err)
	}
	client := agent.NewClient(conn)

	keys, err := client.List()
	if err != nil {
		return nil, fmt.Errorf("signer: list agent keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("signer: agent holds no keys")
	}
	if pub == nil {
		parsed, err := ssh.ParsePublicKey(keys[0].Marshal())
		if err != nil {
			return nil, fmt.Errorf("signer: parse agent key: %w", err)
		}
		return &AgentSigner{client: client, pub: parsed}, nil
	}
	want := pub.Marshal()
	for _, k := range keys {
		if bytes.Equal(k.Marshal(), want) {
			return &AgentSigner{client: client, pub: pub}, nil
		}
	}
	return nil, fmt.Errorf("signer: agent does not hold key %s",
		ssh.FingerprintSHA256(pub))
}

// PublicKey implements metadata.Signer.
func (a *AgentSigner) PublicKey() metadata.Key {
	return metadata.NewKey(a.pub)
}

// Sign implements metadata.Signer.
func (a *AgentSigner) Sign(payload []byte) (metadata.Signature, error) {
	sig, err := a.client.Sign(a.pub, payload)
	if err != nil {
		return nil, fmt.Errorf("signer: agent sign: %w", err)
	}
	return metadata.Signature(sig.Blob), nil
}
