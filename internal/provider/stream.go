// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

package provider

import (
	"strings"
	"sync"
)

// Normalizer turns flat text and reasoning deltas into the
// message/content-block chunk sequence every stream exposes. Vendors that
// already emit that sequence push chunks directly.
type Normalizer struct {
	tag      Tag
	model    string
	queue    []StreamChunk
	started  bool
	finished bool
	block    int
	open     blockKind
	usage    *Usage
}

type blockKind int

const (
	blockNone blockKind = iota
	blockThinking
	blockText
)

// NewNormalizer returns a Normalizer stamping chunks with tag and model.
func NewNormalizer(tag Tag, model string) *Normalizer {
	return &Normalizer{tag: tag, model: model, block: -1}
}

// SetModel replaces the model echoed on chunks not yet queued.
func (n *Normalizer) SetModel(model string) {
	if model != "" {
		n.model = model
	}
}

// Push queues a chunk as-is, stamping the provider.
func (n *Normalizer) Push(c StreamChunk) {
	c.Provider = n.tag
	if c.Model == "" && c.Type == ChunkMessageStart {
		c.Model = n.model
	}
	n.queue = append(n.queue, c)
}

func (n *Normalizer) start() {
	if n.started {
		return
	}
	n.started = true
	n.Push(StreamChunk{Type: ChunkMessageStart, Model: n.model})
}

func (n *Normalizer) openBlock(kind blockKind) {
	n.start()
	if n.open == kind {
		return
	}
	n.closeBlock()
	n.block++
	n.open = kind
	n.Push(StreamChunk{Type: ChunkContentBlockStart, Index: n.block})
}

func (n *Normalizer) closeBlock() {
	if n.open == blockNone {
		return
	}
	n.Push(StreamChunk{Type: ChunkContentBlockStop, Index: n.block})
	n.open = blockNone
}

// Text queues a text delta, opening a text block when needed.
func (n *Normalizer) Text(text string) {
	if text == "" {
		return
	}
	n.openBlock(blockText)
	n.Push(StreamChunk{Type: ChunkContentBlockDelta, Index: n.block, Delta: &Delta{Text: text}})
}

// Thinking queues a reasoning delta, opening a thinking block when needed.
func (n *Normalizer) Thinking(text string) {
	if text == "" {
		return
	}
	n.openBlock(blockThinking)
	n.Push(StreamChunk{Type: ChunkContentBlockDelta, Index: n.block, Delta: &Delta{Thinking: text}})
}

// Usage records the latest usage report; it is emitted on Finish.
func (n *Normalizer) Usage(u Usage) {
	n.usage = &u
}

// Finish closes any open block and queues the terminal chunks.
func (n *Normalizer) Finish() {
	if n.finished {
		return
	}
	n.finished = true
	n.start()
	n.closeBlock()
	n.Push(StreamChunk{Type: ChunkMessageDelta, Usage: n.usage})
	n.Push(StreamChunk{Type: ChunkMessageStop})
}

// Pop removes the oldest queued chunk.
func (n *Normalizer) Pop() (StreamChunk, bool) {
	if len(n.queue) == 0 {
		return StreamChunk{}, false
	}
	c := n.queue[0]
	n.queue[0] = StreamChunk{}
	n.queue = n.queue[1:]
	return c, true
}

// PullStream adapts a vendor event source to Stream. fill is called
// whenever the queue is empty; it returns more=false once the upstream is
// exhausted.
type PullStream struct {
	norm    *Normalizer
	fill    func(n *Normalizer) (more bool, err error)
	closeFn func() error

	cur       StreamChunk
	err       error
	done      bool
	closeOnce sync.Once
	closeErr  error
}

// NewPullStream builds a PullStream. closeFn may be nil.
func NewPullStream(n *Normalizer, fill func(n *Normalizer) (bool, error), closeFn func() error) *PullStream {
	return &PullStream{norm: n, fill: fill, closeFn: closeFn}
}

func (s *PullStream) Next() bool {
	for {
		if c, ok := s.norm.Pop(); ok {
			s.cur = c
			return true
		}
		if s.done {
			return false
		}
		more, err := s.fill(s.norm)
		if err != nil {
			s.err = err
			s.done = true
			s.norm.queue = nil
			return false
		}
		if !more {
			s.norm.Finish()
			s.done = true
		}
	}
}

func (s *PullStream) Current() StreamChunk { return s.cur }

func (s *PullStream) Err() error { return s.err }

func (s *PullStream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		s.norm.queue = nil
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// SliceStream replays a fixed chunk list, then reports err.
type SliceStream struct {
	chunks []StreamChunk
	err    error
	pos    int
	cur    StreamChunk
	closed bool
}

// NewSliceStream returns a stream over chunks ending with err.
func NewSliceStream(chunks []StreamChunk, err error) *SliceStream {
	return &SliceStream{chunks: chunks, err: err}
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos >= len(s.chunks) {
		return false
	}
	s.cur = s.chunks[s.pos]
	s.pos++
	return true
}

func (s *SliceStream) Current() StreamChunk { return s.cur }

func (s *SliceStream) Err() error {
	if s.closed || s.pos < len(s.chunks) {
		return nil
	}
	return s.err
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool { return s.closed }

// primedStream replays a chunk already pulled from inner, then continues
// with inner. done fires once with the terminal error (nil on success)
// when the stream ends or is closed.
type primedStream struct {
	inner   Stream
	first   StreamChunk
	primed  bool
	cur     StreamChunk
	done    func(err error)
	settled bool
}

func newPrimedStream(inner Stream, first StreamChunk, done func(error)) *primedStream {
	return &primedStream{inner: inner, first: first, primed: true, done: done}
}

func (s *primedStream) Next() bool {
	if s.primed {
		s.primed = false
		s.cur = s.first
		return true
	}
	if s.inner.Next() {
		s.cur = s.inner.Current()
		return true
	}
	s.settle(s.inner.Err())
	return false
}

func (s *primedStream) Current() StreamChunk { return s.cur }

func (s *primedStream) Err() error { return s.inner.Err() }

func (s *primedStream) Close() error {
	s.primed = false
	s.settle(nil)
	return s.inner.Close()
}

func (s *primedStream) settle(err error) {
	if s.settled {
		return
	}
	s.settled = true
	if s.done != nil {
		s.done(err)
	}
}

// Collect drains s into a Response and closes it.
func Collect(s Stream) (*Response, error) {
	defer func() { _ = s.Close() }()

	var (
		text     strings.Builder
		thinking strings.Builder
		resp     Response
	)
	for s.Next() {
		c := s.Current()
		if c.Provider != "" {
			resp.Provider = c.Provider
		}
		if c.Model != "" {
			resp.Model = c.Model
		}
		if c.Delta != nil {
			text.WriteString(c.Delta.Text)
			thinking.WriteString(c.Delta.Thinking)
		}
		if c.Usage != nil {
			resp.Usage = *c.Usage
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	resp.Content = text.String()
	resp.Thinking = thinking.String()
	return &resp, nil
}
