package tracker

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestIsAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "lower", in: "0x7cc422e70e02ae48539c3f83b032d318d534b450", want: true},
		{name: "mixed", in: "0x7cc422e70e02Ae48539C3F83B032D318d534B450", want: true},
		{name: "padded", in: "  0x7cc422e70e02ae48539c3f83b032d318d534b450 ", want: true},
		{name: "no prefix", in: "7cc422e70e02ae48539c3f83b032d318d534b450", want: false},
		{name: "short", in: "0x7cc422e70e02ae48", want: false},
		{name: "not hex", in: "0x7cc422e70e02ae48539c3f83b032d318d534bzzz", want: false},
		{name: "empty", in: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAddress(tt.in); got != tt.want {
				t.Errorf("IsAddress(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAddressIgnoresCase(t *testing.T) {
	a, err := ParseAddress("0x7cc422e70e02ae48539c3f83b032d318d534b450")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	b, err := ParseAddress(" 0x7CC422E70E02AE48539C3F83B032D318D534B450 ")
	if err != nil {
		t.Fatalf("ParseAddress padded: %v", err)
	}
	if a != b {
		t.Fatalf("%s != %s", a.Hex(), b.Hex())
	}
	c, _ := ParseAddress("  0x0000000000000000000000000000000000000001")
	if c == a || c == (common.Address{}) {
		t.Fatalf("padded address decoded to %s", c.Hex())
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("short address accepted")
	}
}

func TestShortAddress(t *testing.T) {
	addr := common.HexToAddress("0x7cc422e70e02Ae48539C3F83B032D318d534B450")
	if got := ShortAddress(addr); !strings.EqualFold(got, "0x7cc4...b450") {
		t.Fatalf("unexpected short address %s", got)
	}
}

func TestFormatProfile(t *testing.T) {
	if got := FormatProfile(" Ada ", ""); got != "Ada" {
		t.Fatalf("expected bare name, got %q", got)
	}
	if got := FormatProfile("Ada", "ada@example.com"); got != "Ada (ada@example.com)" {
		t.Fatalf("expected composite profile, got %q", got)
	}
}
