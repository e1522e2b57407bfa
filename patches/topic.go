// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

// Topic groups patch submissions into a discussion thread. It is an
// opaque 32-byte value, conventionally the SHA-256 of a human-chosen
// subject, so unrelated drops converge on the same topic for the same
// subject.
type Topic [32]byte

// Well-known topics.
var (
	// TopicMerges collects checkpoint submissions that fold branches.
	TopicMerges = HashedTopic("merges")
	// TopicSnapshots collects full-history snapshot bundles.
	TopicSnapshots = HashedTopic("snapshots")
)

// topicTrailer starts the commit message trailer linking a note or
// record commit to its topic.
const topicTrailer = "Re:"

// HashedTopic derives a topic from a subject string.
func HashedTopic(subject string) Topic {
	return Topic(sha256.Sum256([]byte(subject)))
}

// TopicFromHex parses a 64-character hex string.
func TopicFromHex(s string) (Topic, error) {
	var t Topic
	if err := decodeHexInto(t[:], s); err != nil {
		return Topic{}, fmt.Errorf("patches: invalid topic %q", s)
	}
	return t, nil
}

// TopicFromRefname extracts the topic from the last segment of a
// topic ref.
func TopicFromRefname(name gitstore.Refname) (Topic, error) {
	idx := strings.LastIndex(string(name), "/")
	if idx < 0 {
		return Topic{}, fmt.Errorf("patches: invalid topic ref %q", name)
	}
	return TopicFromHex(string(name)[idx+1:])
}

// TopicFromMessage scans a commit message for the topic trailer.
// Returns false if no trailer is present.
func TopicFromMessage(message string) (Topic, bool, error) {
	value, ok := findTrailer(message, topicTrailer)
	if !ok {
		return Topic{}, false, nil
	}
	t, err := TopicFromHex(value)
	if err != nil {
		return Topic{}, false, err
	}
	return t, true, nil
}

func (t Topic) String() string {
	return hexEncode(t[:])
}

// Refname returns the note thread ref of this topic.
func (t Topic) Refname() gitstore.Refname {
	return RefTopics + gitstore.Refname("/"+t.String())
}

// Trailer renders the commit message trailer naming this topic.
func (t Topic) Trailer() string {
	return topicTrailer + " " + t.String()
}

// MarshalText implements encoding.TextMarshaler.
func (t Topic) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Topic) UnmarshalText(text []byte) error {
	parsed, err := TopicFromHex(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// findTrailer scans message lines for "<prefix> <value>" and returns
// the trimmed value of the first match.
func findTrailer(message, prefix string) (string, bool) {
	for _, line := range strings.Split(message, "\n") {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}
