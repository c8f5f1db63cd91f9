// Package transport moves protocol messages between the foreground proxy
// and the background engine. Both implementations deliver messages in send
// order; neither shares memory across the boundary.
package transport

import (
	"errors"
	"sync"

	"github.com/lockpick/tracker/pkg/protocol"
)

// ErrClosed is returned by Send after the endpoint has been closed.
var ErrClosed = errors.New("transport closed")

// Transport is one endpoint of a bidirectional message channel.
type Transport interface {
	Send(m protocol.Message) error
	Receive() <-chan protocol.Message
	Close() error
}

const pairBuffer = 64

// endpoint is one side of an in-process pair.
type endpoint struct {
	out    chan<- []byte
	in     <-chan protocol.Message
	closed chan struct{}
	once   sync.Once
}

// Pair returns two connected in-process endpoints. Messages are serialized
// through the wire format on the way across, so the two sides can never
// alias each other's data. This is the default single-process deployment:
// the engine goroutine holds one end, the UI the other.
func Pair() (Transport, Transport) {
	ab := make(chan []byte, pairBuffer)
	ba := make(chan []byte, pairBuffer)
	closeA := make(chan struct{})
	closeB := make(chan struct{})

	a := &endpoint{out: ab, in: decodeLoop(ba, closeB), closed: closeA}
	b := &endpoint{out: ba, in: decodeLoop(ab, closeA), closed: closeB}
	return a, b
}

// decodeLoop turns a byte channel into a message channel, dropping frames
// that fail to decode. done is the producing endpoint's close signal: frames
// already in flight are drained before the message channel closes.
func decodeLoop(raw <-chan []byte, done <-chan struct{}) <-chan protocol.Message {
	out := make(chan protocol.Message, pairBuffer)
	deliver := func(frame []byte) {
		m, err := protocol.Decode(frame)
		if err != nil {
			return
		}
		out <- m
	}
	go func() {
		defer close(out)
		for {
			select {
			case frame := <-raw:
				deliver(frame)
			case <-done:
				for {
					select {
					case frame := <-raw:
						deliver(frame)
					default:
						return
					}
				}
			}
		}
	}()
	return out
}

// Send never blocks indefinitely against a stalled peer: closing the
// endpoint releases any sender waiting on a full buffer.
func (e *endpoint) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	select {
	case e.out <- data:
		return nil
	case <-e.closed:
		return ErrClosed
	}
}

func (e *endpoint) Receive() <-chan protocol.Message { return e.in }

func (e *endpoint) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}
