package db

import (
	"testing"

	"github.com/memohai/rolodex/internal/config"
)

func TestRunMigrateRejectsBadArguments(t *testing.T) {
	cfg := config.PostgresConfig{Host: "localhost", Port: 5432, User: "rolodex", Database: "rolodex", SSLMode: "disable"}
	tests := []struct {
		name    string
		command string
		args    []string
	}{
		{"unknown command", "sideways", nil},
		{"force without version", MigrateForce, nil},
		{"steps not numeric", MigrateSteps, []string{"two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := RunMigrate(nil, cfg, nil, tt.command, tt.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMigrateArg(t *testing.T) {
	n, err := migrateArg(MigrateSteps, []string{"-2"})
	if err != nil || n != -2 {
		t.Fatalf("migrateArg() = %d, %v", n, err)
	}
	if _, err := migrateArg(MigrateUp, nil); err != nil {
		t.Fatalf("up should not need args: %v", err)
	}
}
