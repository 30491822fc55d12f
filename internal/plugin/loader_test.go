//go:build windows

package plugin

import "testing"

func TestMin(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{1, 2, 1},
		{2, 1, 1},
		{5, 5, 5},
		{0, 65535, 0},
	}
	for _, c := range cases {
		if got := min(c.a, c.b); got != c.want {
			t.Errorf("min(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestLoadMissingLibraryFails(t *testing.T) {
	if _, err := Load(`C:\nonexistent\flowforge-plugin-does-not-exist.dll`); err == nil {
		t.Fatal("expected error loading a nonexistent plugin DLL")
	}
}

func TestUTF8JSONPtrNotNil(t *testing.T) {
	ptr := utf8JSONPtr([]byte(`{"a":1}`))
	if ptr == 0 {
		t.Fatal("utf8JSONPtr returned a nil pointer for non-empty input")
	}
}
