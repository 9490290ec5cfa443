package fecproto

import "testing"

func TestSourceFooterRoundTrip(t *testing.T) {
	for _, scheme := range []Scheme{LDPCStaircase, ReedSolomonM8} {
		payload := []byte{0x01, 0x02, 0x03}
		buf := EncodeSource(scheme, payload, 7, 3, 20)

		if got, want := len(buf), len(payload)+SourceFooterLen(scheme); got != want {
			t.Fatalf("scheme %d: encoded length %d, want %d", scheme, got, want)
		}

		view, err := DecodeSource(scheme, buf)
		if err != nil {
			t.Fatalf("scheme %d: DecodeSource: %v", scheme, err)
		}
		if view.SBN != 7 || view.ESI != 3 || view.K != 20 {
			t.Fatalf("scheme %d: got %+v, want SBN=7 ESI=3 K=20", scheme, view)
		}
	}
}

func TestSourceFooterLeavesPayloadUntouched(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	buf := EncodeSource(ReedSolomonM8, payload, 1, 0, 10)
	if buf[0] != 0xAA || buf[1] != 0xBB || buf[2] != 0xCC {
		t.Fatalf("payload prefix corrupted: %v", buf[:3])
	}
}

func TestRepairHeaderRoundTrip(t *testing.T) {
	for _, scheme := range []Scheme{LDPCStaircase, ReedSolomonM8} {
		header := EncodeRepair(scheme, 0xCAFEBABE, 42, 5, 20, 30)
		symbol := []byte{0xDE, 0xAD}
		wire := append(header, symbol...)

		if got, want := len(header), RepairFooterLen(scheme); got != want {
			t.Fatalf("scheme %d: header length %d, want %d", scheme, got, want)
		}

		view, err := DecodeRepair(scheme, wire)
		if err != nil {
			t.Fatalf("scheme %d: DecodeRepair: %v", scheme, err)
		}
		if view.SSRC != 0xCAFEBABE || view.SBN != 42 || view.ESI != 5 || view.K != 20 || view.N != 30 {
			t.Fatalf("scheme %d: got %+v", scheme, view)
		}

		rest := wire[RepairFooterLen(scheme):]
		if len(rest) != 2 || rest[0] != 0xDE || rest[1] != 0xAD {
			t.Fatalf("scheme %d: symbol bytes after header corrupted: %v", scheme, rest)
		}
	}
}

func TestDifferentSSRCsDecodeDistinctly(t *testing.T) {
	a := EncodeRepair(ReedSolomonM8, 1, 0, 0, 4, 6)
	b := EncodeRepair(ReedSolomonM8, 2, 0, 0, 4, 6)

	va, err := DecodeRepair(ReedSolomonM8, a)
	if err != nil {
		t.Fatalf("DecodeRepair(a): %v", err)
	}
	vb, err := DecodeRepair(ReedSolomonM8, b)
	if err != nil {
		t.Fatalf("DecodeRepair(b): %v", err)
	}
	if va.SSRC == vb.SSRC {
		t.Fatal("expected distinct SSRCs to decode distinctly, enabling repair-port demux across sessions")
	}
}

func TestDecodeRepairTruncatedBufferErrors(t *testing.T) {
	if _, err := DecodeRepair(ReedSolomonM8, make([]byte, 4)); err == nil {
		t.Fatal("expected error decoding a buffer shorter than the repair header")
	}
}
