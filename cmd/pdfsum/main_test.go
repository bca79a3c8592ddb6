package main

import (
	"bytes"
	"testing"
)

func TestCommandTree(t *testing.T) {
	want := map[string]bool{"serve": false, "worker": false, "recover-stuck": false, "migrate": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
	if serveCmd.Flags().Lookup("with-worker") == nil {
		t.Fatalf("serve is missing --with-worker")
	}
	if recoverStuckCmd.Flags().Lookup("older-than") == nil {
		t.Fatalf("recover-stuck is missing --older-than")
	}
}

func TestVersionCommand(t *testing.T) {
	orig := version
	version = "1.2.3"
	defer func() { version = orig }()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := buf.String(); got != "pdfsum version 1.2.3\n" {
		t.Fatalf("output=%q", got)
	}
}
