package client

import "testing"

func TestParseMapping(t *testing.T) {
	cases := []struct {
		in            string
		local, remote uint16
		wantErr       bool
	}{
		{"5555:8080", 5555, 8080, false},
		{"5353", 5353, 5353, false},
		{"0:65535", 0, 65535, false},
		{"a:b", 0, 0, true},
		{"1:2:3", 0, 0, true},
		{"70000:80", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, c := range cases {
		local, remote, err := ParseMapping(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseMapping(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMapping(%q): %v", c.in, err)
			continue
		}
		if local != c.local || remote != c.remote {
			t.Errorf("ParseMapping(%q) = %d:%d, want %d:%d", c.in, local, remote, c.local, c.remote)
		}
	}
}
