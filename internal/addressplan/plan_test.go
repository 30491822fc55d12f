package addressplan

import "testing"

func TestParseValidDualStack(t *testing.T) {
	p, err := Parse("10.200.0.2", "10.200.0.1", "fd00::2", "fd00::1", 1400)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.HasV4() || !p.HasV6() {
		t.Fatalf("expected both families present, got %+v", p)
	}
	if p.MTU != 1400 {
		t.Fatalf("MTU = %d, want 1400", p.MTU)
	}
}

func TestParseV4Only(t *testing.T) {
	p, err := Parse("10.200.0.2", "10.200.0.1", "", "", 1400)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.HasV4() {
		t.Fatal("expected v4 present")
	}
	if p.HasV6() {
		t.Fatal("expected v6 absent")
	}
}

func TestParseRejectsAsymmetricFamily(t *testing.T) {
	if _, err := Parse("10.200.0.2", "", "", "", 1400); err == nil {
		t.Fatal("expected error for local4 without peer4")
	}
}

func TestParseRejectsNoFamilies(t *testing.T) {
	if _, err := Parse("", "", "", "", 1400); err == nil {
		t.Fatal("expected error when no address family is set")
	}
}

func TestParseRejectsWrongFamilyLiteral(t *testing.T) {
	if _, err := Parse("fd00::2", "10.200.0.1", "", "", 1400); err == nil {
		t.Fatal("expected error for IPv6 literal in local4")
	}
}

func TestParseMTUBounds(t *testing.T) {
	cases := []struct {
		mtu     int
		wantErr bool
	}{
		{575, true},
		{576, false},
		{9200, false},
		{9201, true},
	}
	for _, c := range cases {
		_, err := Parse("10.200.0.2", "10.200.0.1", "", "", c.mtu)
		if (err != nil) != c.wantErr {
			t.Errorf("mtu=%d: err=%v, wantErr=%v", c.mtu, err, c.wantErr)
		}
	}
}
