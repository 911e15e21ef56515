package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedOutput string
		expectError    bool
	}{
		{name: "help flag", args: []string{"--help"}, expectedOutput: "password manager"},
		{name: "short help flag", args: []string{"-h"}, expectedOutput: "password manager"},
		{name: "no args prints help", args: nil, expectedOutput: "Available Commands"},
		{name: "invalid flag", args: []string{"--invalid-flag"}, expectedOutput: "unknown flag: --invalid-flag", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(tt.args...)

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !strings.Contains(output, tt.expectedOutput) {
				t.Errorf("expected output to contain %q, got:\n%s", tt.expectedOutput, output)
			}
		})
	}
}

func TestRootCommandPersistentFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, flag := range []string{"config", "log-level", "log-format"} {
		if f := cmd.PersistentFlags().Lookup(flag); f == nil {
			t.Errorf("expected persistent flag %q to be defined", flag)
		}
	}
}

func TestRootCommandSubcommands(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"gateway", "storage", "token", "secret", "healthcheck", "version"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestServiceCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"gateway", []string{"host", "port"}},
		{"storage", []string{"host", "port", "db"}},
	}
	root := newRootCommand()
	for _, tt := range tests {
		sub, _, err := root.Find([]string{tt.command})
		if err != nil {
			t.Fatalf("find %s: %v", tt.command, err)
		}
		for _, flag := range tt.flags {
			if sub.Flags().Lookup(flag) == nil {
				t.Errorf("expected flag %q on %s", flag, tt.command)
			}
		}
	}
}

func TestGatewayCommandRejectsInvalidConfig(t *testing.T) {
	t.Setenv("STORAGE_AUTH_MODE", "kerberos")

	_, err := execute("gateway")
	if err == nil || !strings.Contains(err.Error(), "STORAGE_AUTH_MODE") {
		t.Fatalf("expected auth mode error, got %v", err)
	}
}

func TestStorageCommandRejectsDefaultSecretInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("STORAGE_API_KEY", "")
	t.Setenv("STORAGE_AUTH_MODE", "")

	_, err := execute("storage", "--db", t.TempDir()+"/x.db")
	if err == nil || !strings.Contains(err.Error(), "config error") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLoadConfigAppliesLogFlags(t *testing.T) {
	origLevel, origFormat := logLevel, logFormat
	defer func() { logLevel, logFormat = origLevel, origFormat }()

	logLevel, logFormat = "debug", "console"
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("expected flag overrides, got %+v", cfg.Logging)
	}
}
