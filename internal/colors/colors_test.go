package colors

import (
	"testing"

	"github.com/fatih/color"
)

func TestInit(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	on, off := true, false

	color.NoColor = true
	Init(&on)
	if !Enabled() {
		t.Error("expected colors enabled after Init(true)")
	}

	Init(&off)
	if Enabled() {
		t.Error("expected colors disabled after Init(false)")
	}

	Init(nil)
	if Enabled() {
		t.Error("Init(nil) must keep the current setting")
	}
}

func TestPlainOutputWhenDisabled(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	color.NoColor = true
	if got := Address("%#x", 0x1000); got != "0x1000" {
		t.Errorf("Address() = %q, want plain text", got)
	}
	if got := Symbol("%s", "WidgetManager"); got != "WidgetManager" {
		t.Errorf("Symbol() = %q, want plain text", got)
	}
}
