package main

import (
	"errors"
	"io"
	"testing"
	"time"
)

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestParseArgs(t *testing.T) {
	withURL := env(map[string]string{"DATABASE_URL": "postgres://env/db"})

	tests := []struct {
		name    string
		args    []string
		getenv  func(string) string
		want    invocation
		wantErr bool
	}{
		{
			name:   "env url",
			args:   []string{"up"},
			getenv: withURL,
			want:   invocation{databaseURL: "postgres://env/db", timeout: 2 * time.Minute, command: "up", args: []string{}},
		},
		{
			name:   "flag overrides env",
			args:   []string{"-database-url", "postgres://flag/db", "-timeout", "30s", "status"},
			getenv: withURL,
			want:   invocation{databaseURL: "postgres://flag/db", timeout: 30 * time.Second, command: "status", args: []string{}},
		},
		{
			name:   "versioned command",
			args:   []string{"down-to", "3"},
			getenv: withURL,
			want:   invocation{databaseURL: "postgres://env/db", timeout: 2 * time.Minute, command: "down-to", args: []string{"3"}},
		},
		{name: "missing version", args: []string{"up-to"}, getenv: withURL, wantErr: true},
		{name: "bad version", args: []string{"up-to", "latest"}, getenv: withURL, wantErr: true},
		{name: "stray argument", args: []string{"up", "5"}, getenv: withURL, wantErr: true},
		{name: "unknown command", args: []string{"fix"}, getenv: withURL, wantErr: true},
		{name: "no database", args: []string{"up"}, getenv: env(nil), wantErr: true},
		{name: "zero timeout", args: []string{"-timeout", "0s", "up"}, getenv: withURL, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args, tt.getenv, io.Discard)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.databaseURL != tt.want.databaseURL || got.timeout != tt.want.timeout || got.command != tt.want.command {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if len(got.args) != len(tt.want.args) || (len(got.args) > 0 && got.args[0] != tt.want.args[0]) {
				t.Errorf("args = %v, want %v", got.args, tt.want.args)
			}
		})
	}
}

func TestParseArgsWithoutCommandIsUsage(t *testing.T) {
	_, err := parseArgs(nil, env(nil), io.Discard)
	if !errors.Is(err, errUsage) {
		t.Errorf("expected errUsage, got %v", err)
	}
	if _, err := parseArgs([]string{"-nope"}, env(nil), io.Discard); !errors.Is(err, errUsage) {
		t.Errorf("expected errUsage for unknown flag, got %v", err)
	}
}
