package pairing

import "testing"

func TestNormalizeDeviceName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"phone", "phone"},
		{"My Phone", "my-phone"},
		{"  Kitchen Tablet  ", "kitchen-tablet"},
		{"already-valid_1", "already-valid_1"},
		{"--dashes--", "dashes"},
		{"ÜbêrDevice", "b-rdevice"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := NormalizeDeviceName(c.in); got != c.want {
			t.Errorf("NormalizeDeviceName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
