package browser

import "testing"

func TestBlockSet(t *testing.T) {
	got := blockSet([]string{"Media", "fonts", " websockets ", "images", "stylesheets", ""})

	for _, want := range []string{"media", "font", "websocket"} {
		if !got[want] {
			t.Errorf("blockSet missing %q: %v", want, got)
		}
	}
	// WHAT: images and stylesheets are never blocked.
	// WHY: the capture would render without them.
	for _, never := range []string{"image", "stylesheet", "document"} {
		if got[never] {
			t.Errorf("blockSet must not block %q", never)
		}
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeHeadless, "headless": ModeHeadless, "headful": ModeHeadful}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("kiosk"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLeaseRequiresStart(t *testing.T) {
	m := NewManager(Config{})
	if _, err := m.lease(); err == nil {
		t.Fatal("lease before Start must fail")
	}

	m.Close()
	if err := m.Recycle(); err == nil {
		t.Fatal("Recycle after Close must fail")
	}
}
