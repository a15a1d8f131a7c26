package cmd

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestRootCommand(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}

	if rootCmd.Use != "stepplane" {
		t.Errorf("expected Use to be 'stepplane', got %q", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("rootCmd.Short should not be empty")
	}
}

func TestVersionSet(t *testing.T) {
	if getVersion() != rootCmd.Version {
		t.Errorf("expected rootCmd.Version %q to match getVersion() %q", rootCmd.Version, getVersion())
	}
}

func TestCommandsRegistered(t *testing.T) {
	commands := rootCmd.Commands()
	if len(commands) == 0 {
		t.Fatal("expected at least one subcommand to be registered")
	}

	expectedCommands := map[string]bool{
		"init":     false,
		"status":   false,
		"plan":     false,
		"run":      false,
		"resume":   false,
		"results":  false,
		"install":  false,
		"validate": false,
		"version":  false,
	}

	for _, cmd := range commands {
		if _, exists := expectedCommands[cmd.Name()]; exists {
			expectedCommands[cmd.Name()] = true
		}
	}

	for cmdName, registered := range expectedCommands {
		if !registered {
			t.Errorf("expected command %q to be registered", cmdName)
		}
	}
}

func TestTokenFlagsRequired(t *testing.T) {
	for _, c := range []struct {
		name string
		flag string
	}{
		{name: "resume", flag: "token"},
		{name: "results", flag: "token"},
	} {
		cmd, _, err := rootCmd.Find([]string{c.name})
		if err != nil {
			t.Fatalf("Failed to find command %q: %v", c.name, err)
		}
		f := cmd.Flags().Lookup(c.flag)
		if f == nil {
			t.Fatalf("expected --%s on %q", c.flag, c.name)
		}
		if _, ok := f.Annotations[cobra.BashCompOneRequiredFlag]; !ok {
			t.Errorf("expected --%s to be required on %q", c.flag, c.name)
		}
	}
}
