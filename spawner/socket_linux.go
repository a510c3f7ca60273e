package spawner

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/criyle/go-forkserver/pkg/unixsocket"
)

// 16k buffsize
const bufferSize = 16 << 10

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, bufferSize)
	},
}

// socket is a gob stream over a seqpacket socket, one message per packet
type socket struct {
	*unixsocket.Socket

	recvBuff bytes.Buffer
	decoder  *gob.Decoder

	sendBuff bytes.Buffer
	encoder  *gob.Encoder
}

func newSocket(s *unixsocket.Socket) *socket {
	soc := socket{
		Socket: s,
	}
	soc.decoder = gob.NewDecoder(&soc.recvBuff)
	soc.encoder = gob.NewEncoder(&soc.sendBuff)

	return &soc
}

func (s *socket) RecvMsg(e any) (unixsocket.Msg, error) {
	buff := bufferPool.Get().([]byte)
	defer bufferPool.Put(buff)

	n, msg, err := s.Socket.RecvMsg(buff)
	if err != nil {
		return msg, fmt.Errorf("RecvMsg: %w", err)
	}
	s.recvBuff.Reset()
	s.recvBuff.Write(buff[:n])

	if err := s.decoder.Decode(e); err != nil {
		unixsocket.CloseFds(msg.Fds)
		return unixsocket.Msg{}, fmt.Errorf("RecvMsg: failed to decode %w", err)
	}
	return msg, nil
}

func (s *socket) SendMsg(e any, msg unixsocket.Msg) error {
	s.sendBuff.Reset()
	if err := s.encoder.Encode(e); err != nil {
		return fmt.Errorf("SendMsg: failed to encode %w", err)
	}
	if s.sendBuff.Len() > bufferSize {
		return fmt.Errorf("SendMsg: message of %d bytes exceeds %d", s.sendBuff.Len(), bufferSize)
	}

	if err := s.Socket.SendMsg(s.sendBuff.Bytes(), msg); err != nil {
		return fmt.Errorf("SendMsg: failed to SendMsg %w", err)
	}
	return nil
}
