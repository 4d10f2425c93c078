// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package adapter

import "github.com/omnigate-dev/omnigate/internal/provider"

// MessageStream is a provider stream committed to one provider, annotated
// with how it was chosen. It implements provider.Stream.
type MessageStream struct {
	Requested    provider.Tag
	Actual       provider.Tag
	FallbackUsed bool
	Attempts     int

	inner  provider.Stream
	first  provider.StreamChunk
	primed bool
	cur    provider.StreamChunk
}

var _ provider.Stream = (*MessageStream)(nil)

func (s *MessageStream) Next() bool {
	if s.primed {
		s.primed = false
		s.cur = s.first
		return true
	}
	if s.inner.Next() {
		s.cur = s.inner.Current()
		return true
	}
	return false
}

func (s *MessageStream) Current() provider.StreamChunk { return s.cur }

func (s *MessageStream) Err() error {
	return provider.Classify(s.Actual, 0, 0, s.inner.Err())
}

func (s *MessageStream) Close() error {
	s.primed = false
	return s.inner.Close()
}

// Warnings lists options the provider dropped to serve the stream.
func (s *MessageStream) Warnings() []string {
	if w, ok := s.inner.(interface{ Warnings() []string }); ok {
		return w.Warnings()
	}
	return nil
}
