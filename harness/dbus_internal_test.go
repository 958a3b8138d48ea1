package harness

import "testing"

func Test_ParseBusOutput_Extracts_Address_And_PID(t *testing.T) {
	t.Parallel()

	address, pid, err := parseBusOutput("unix:abstract=/tmp/dbus-xyz,guid=abc 12345\n")
	if err != nil {
		t.Fatalf("parseBusOutput: %v", err)
	}

	if address != "unix:abstract=/tmp/dbus-xyz,guid=abc" {
		t.Errorf("address = %q", address)
	}

	if pid != 12345 {
		t.Errorf("pid = %d, want 12345", pid)
	}
}

func Test_ParseBusOutput_Accepts_Newline_Separated_Tokens(t *testing.T) {
	t.Parallel()

	address, pid, err := parseBusOutput("unix:path=/tmp/bus\n678\n")
	if err != nil {
		t.Fatalf("parseBusOutput: %v", err)
	}

	if address != "unix:path=/tmp/bus" || pid != 678 {
		t.Errorf("got %q / %d", address, pid)
	}
}

func Test_ParseBusOutput_Rejects_Malformed_Output(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":        "",
		"address_only": "unix:path=/tmp/bus\n",
		"bad_pid":      "unix:path=/tmp/bus notanumber",
	}

	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, _, err := parseBusOutput(out)
			if err == nil {
				t.Fatalf("parseBusOutput(%q) succeeded, want error", out)
			}
		})
	}
}
