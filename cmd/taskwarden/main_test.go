package main

import "testing"

func TestNewRootCommand_BindsDataDirFlag(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--data-dir", "/tmp/taskwarden-test", "--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	flag := cmd.PersistentFlags().Lookup("data-dir")
	if flag == nil {
		t.Fatal("expected data-dir flag to be registered")
	}
	if flag.Value.String() != "/tmp/taskwarden-test" {
		t.Fatalf("expected data-dir to be set, got %q", flag.Value.String())
	}
}

func TestNewRootCommand_HasVersionSubcommand(t *testing.T) {
	cmd := newRootCommand()
	found := false
	for _, sub := range cmd.Commands() {
		if sub.Use == "version" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a version subcommand")
	}
}
