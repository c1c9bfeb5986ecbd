package cli

import "testing"

func TestVersionVariablesHaveDefaults(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
	if Commit == "" {
		t.Error("Commit should have a default value")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := map[string]bool{
		"verify": false,
		"vacuum": false,
		"merge":  false,
		"stats":  false,
	}
	for _, cmd := range []interface {
		Name() string
	}{newVerifyCmd(), newVacuumCmd(), newMergeCmd(), newStatsCmd()} {
		if _, ok := want[cmd.Name()]; !ok {
			t.Errorf("unexpected subcommand %q", cmd.Name())
			continue
		}
		want[cmd.Name()] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("subcommand %q was not registered", name)
		}
	}
}
