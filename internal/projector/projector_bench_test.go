package projector

import (
	"errors"
	"testing"
)

var errTest = errors.New("test failure")

func BenchmarkProjectorEmit(b *testing.B) {
	s := newFakeStream("bench", nil)
	p := New[int](ConsumerFuncs{})
	if err := p.BindStream(s); err != nil {
		b.Fatal(err)
	}
	defer p.Unbind()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.emit(i)
	}
}

func BenchmarkProjectorRebind(b *testing.B) {
	p := New[int](ConsumerFuncs{})
	streams := []*fakeStream{newFakeStream("a", nil), newFakeStream("b", nil)}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.BindStream(streams[i%2]); err != nil {
			b.Fatal(err)
		}
	}
	p.Unbind()
}
