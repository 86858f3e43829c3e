package logx

import (
	"strings"
	"testing"
)

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"123456789:ABCDEF", "12345678********"},
		{"  123456789:ABCDEF  ", "12345678********"},
	}
	for _, tc := range cases {
		if got := MaskSecret(tc.in); got != tc.want {
			t.Fatalf("MaskSecret(%q)=%q want %q", tc.in, got, tc.want)
		}
	}

	long := MaskSecret(strings.Repeat("x", 100))
	if len(long) != 8+16 {
		t.Fatalf("long secret mask len=%d", len(long))
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"warn","time":"x","message":"send failed","job":"abc","chat":-100}` + "\n")
	got := formatTelegramJSON(line)
	want := "[WARN] send failed\n- chat=-100\n- job=abc"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	if got := formatTelegramJSON([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-json line: got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if parseLevel("warning", LevelInfo) != LevelWarn {
		t.Fatalf("warning should map to warn")
	}
	if parseLevel("bogus", LevelError) != LevelError {
		t.Fatalf("unknown level should fall back to default")
	}
	if !ValidLevel("debug") || ValidLevel("verbose") {
		t.Fatalf("ValidLevel mismatch")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.With(String("k", "v")).Info("nothing happens")
	Nop().Error("discarded", Err(nil))
}
