package lockout

import (
	"testing"
	"time"
)

func TestParseLadder(t *testing.T) {
	l, err := ParseLadder("1:60000, 2:300000,3:-1")
	if err != nil {
		t.Fatalf("ParseLadder: %v", err)
	}
	if l.Duration(1) != time.Minute {
		t.Fatalf("expected 1m for count 1, got %v", l.Duration(1))
	}
	if l.Duration(2) != 5*time.Minute {
		t.Fatalf("expected 5m for count 2, got %v", l.Duration(2))
	}
	if !l.IsPermanent(3) {
		t.Fatal("expected sentinel to be permanent")
	}
	if !l.IsPermanent(4) {
		t.Fatal("expected missing count to be permanent")
	}
	if got := l.String(); got != "1:60000,2:300000,3:-1" {
		t.Fatalf("unexpected round trip %q", got)
	}
}

func TestParseLadder_Invalid(t *testing.T) {
	for _, in := range []string{"", "1", "x:100", "1:abc", "0:100", "1:0", "1:10,1:20"} {
		if _, err := ParseLadder(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestLadderFromMillis(t *testing.T) {
	l := LadderFromMillis(map[int]int64{1: 1500, 2: -5})
	if l.Duration(1) != 1500*time.Millisecond {
		t.Fatalf("unexpected duration %v", l.Duration(1))
	}
	if !l.IsPermanent(2) {
		t.Fatal("negative millis must be permanent")
	}
	if got := l.Millis()[2]; got != PermanentMillis {
		t.Fatalf("expected permanent sentinel in millis form, got %d", got)
	}
}
