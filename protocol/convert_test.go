package protocol

import (
	"bytes"
	"testing"
)

func TestFormatUID(t *testing.T) {
	uid := []byte{0x04, 0xAB, 0xCD, 0xEF, 0x12, 0x34, 0x56}
	want := "04:AB:CD:EF:12:34:56"
	if got := FormatUID(uid); got != want {
		t.Errorf("FormatUID() = %q, want %q", got, want)
	}
}

func TestParseUID(t *testing.T) {
	want := []byte{0x04, 0xAB, 0xCD, 0xEF}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "colon separated", input: "04:AB:CD:EF"},
		{name: "plain hex", input: "04ABCDEF"},
		{name: "lowercase", input: "04abcdef"},
		{name: "space separated", input: "04 AB CD EF"},
		{name: "dash separated", input: "04-AB-CD-EF"},
		{name: "empty", input: "", wantErr: true},
		{name: "odd length", input: "04ABC", wantErr: true},
		{name: "invalid characters", input: "04:ZZ:CD:EF", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, want) {
				t.Errorf("ParseUID(%q) = %x, want %x", tt.input, got, want)
			}
		})
	}
}
