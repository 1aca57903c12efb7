package main

import "testing"

func TestCommandTree(t *testing.T) {
	migrate := migrateCmd()
	subs := map[string]bool{}
	for _, c := range migrate.Commands() {
		subs[c.Name()] = true
	}
	for _, want := range []string{"up", "down", "status"} {
		if !subs[want] {
			t.Errorf("migrate is missing %q subcommand", want)
		}
	}

	for _, c := range migrate.Commands() {
		if c.Name() == "up" || c.Name() == "down" {
			if c.Flags().Lookup("target") == nil {
				t.Errorf("%s must carry a --target flag", c.Name())
			}
		}
	}

	if serveCmd().Name() != "serve" {
		t.Error("serve command misnamed")
	}
	if len(schemaCmd().Commands()) != 1 {
		t.Error("schema command must expose ddl")
	}
}
