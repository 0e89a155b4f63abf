/*
NAME
  channel.go

DESCRIPTION
  channel.go combines the PAD FIFO and the control-message codec into the
  request/reply behaviour the reactor loop drives directly.

LICENSE
  Copyright (C) 2024 Opendigitalradio.
  Licensed under the Apache License, Version 2.0.
*/

package padchan

// Channel is the PAD back-channel state the reactor loop owns: a FIFO fed
// by PushPAD, and a responder that answers 0x17 PAD-request datagrams with
// 0x18 PAD-provision replies.
type Channel struct {
	fifo *FIFO
}

// NewChannel returns a Channel with a FIFO of the given capacity.
func NewChannel(capacity int) *Channel {
	return &Channel{fifo: NewFIFO(capacity)}
}

// PushPAD enqueues a PAD frame produced locally (e.g. read from a named
// pipe or sibling process socket) for later delivery to the encoder. It
// reports whether the frame was accepted.
func (c *Channel) PushPAD(frame []byte) bool { return c.fifo.Push(frame) }

// Full reports whether the PAD FIFO is at capacity; callers feeding PAD
// data in should consult this and throttle rather than call PushPAD
// speculatively.
func (c *Channel) Full() bool { return c.fifo.Full() }

// Len returns the number of PAD frames currently queued for delivery.
func (c *Channel) Len() int { return c.fifo.Len() }

// Drops returns the number of PAD frames rejected because the FIFO was
// full, for the statistics publisher.
func (c *Channel) Drops() uint64 { return c.fifo.Drops() }

// Handle processes one received control-channel datagram. If it is a PAD
// request (0xFD 0x17), Handle pops the oldest queued PAD frame (if any)
// and returns the 0xFD 0x18 reply to send back to the datagram's source
// address; reply is nil if there was nothing queued, or if datagram was
// not a PAD request.
func (c *Channel) Handle(datagram []byte) (reply []byte) {
	switch Decode(datagram) {
	case MessagePADRequest:
		frame, ok := c.fifo.Pop()
		if !ok {
			return nil
		}
		return EncodePADProvision(frame)
	default:
		return nil
	}
}
