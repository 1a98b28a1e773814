package bot

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{"!help", "help", nil, true},
		{"!bet 50 yes", "bet", []string{"50", "yes"}, true},
		{"!BET 50", "bet", []string{"50"}, true},
		{"hey everyone !y10", "y10", nil, true},
		{"!resolve   YES ", "resolve", []string{"YES"}, true},
		{"no command here", "", nil, false},
		{"", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := parseCommand(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestIsBetShorthand(t *testing.T) {
	for _, valid := range []string{"y12", "n5", "yes100", "no1"} {
		if !isBetShorthand(valid) {
			t.Errorf("isBetShorthand(%q) = false, want true", valid)
		}
	}
	for _, invalid := range []string{"y", "yes", "12y", "maybe5", "y12x", "help"} {
		if isBetShorthand(invalid) {
			t.Errorf("isBetShorthand(%q) = true, want false", invalid)
		}
	}
}

func TestParseBetToken(t *testing.T) {
	tests := []struct {
		token      string
		wantYes    bool
		wantAmount int
		wantOK     bool
	}{
		{"y50", true, 50, true},
		{"yes50", true, 50, true},
		{"50y", true, 50, true},
		{"50yes", true, 50, true},
		{"n20", false, 20, true},
		{"no20", false, 20, true},
		{"20no", false, 20, true},
		{"N5", false, 5, true},
		{"y0", false, 0, false},
		{"y-5", false, 0, false},
		{"yes", false, 0, false},
		{"50", false, 0, false},
		{"y5x", false, 0, false},
		{"", false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			yes, amount, ok := parseBetToken(tt.token)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if yes != tt.wantYes || amount != tt.wantAmount {
				t.Errorf("parseBetToken(%q) = (%v, %d), want (%v, %d)", tt.token, yes, amount, tt.wantYes, tt.wantAmount)
			}
		})
	}
}
