package unixsocket

import "testing"

func BenchmarkSendRecv(b *testing.B) {
	s, t, err := NewSocketPair()
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	defer t.Close()

	m := make([]byte, 1024)
	msg := []byte("message")
	b.ResetTimer()
	go func() {
		for i := 0; i < b.N; i++ {
			s.SendMsg(msg, Msg{})
		}
	}()
	for i := 0; i < b.N; i++ {
		t.RecvMsg(m)
	}
}
