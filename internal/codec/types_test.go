package codec

import "testing"

func TestPacketHasValidDTS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dts  int64
		want bool
	}{
		{name: "zero is valid", dts: 0, want: true},
		{name: "positive is valid", dts: 123456, want: true},
		{name: "nopts sentinel is invalid", dts: NoPTSValue, want: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := &Packet{DTS: tc.dts}
			if got := p.HasValidDTS(); got != tc.want {
				t.Fatalf("HasValidDTS() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFrameEmpty(t *testing.T) {
	t.Parallel()

	if !(*Frame)(nil).Empty() {
		t.Fatal("expected nil frame to be empty")
	}

	sentinel := &Frame{}
	if !sentinel.Empty() {
		t.Fatal("expected zero-value frame to be empty")
	}

	decoded := &Frame{Width: 640, Height: 480, Pixels: make([]byte, 640*480*3)}
	if decoded.Empty() {
		t.Fatal("expected decoded frame to not be empty")
	}
}
