package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/workspace"
)

func dockerProvisioner(t *testing.T) *DockerProvisioner {
	t.Helper()
	p, err := NewDockerProvisioner(DockerRunnerOptions{ImageTemplate: "docker.io/alpine:{version}", Shell: "sh"})
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		p.Close()
		t.Skipf("docker daemon not reachable: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestImageFor(t *testing.T) {
	cell := models.Cell{Language: "python", Version: "3.5"}
	if got := ImageFor(DefaultImageTemplate, cell); got != "python:3.5" {
		t.Errorf("expected python:3.5, got %s", got)
	}
	if got := ImageFor("ghcr.io/org/{language}-ci:{version}-slim", cell); got != "ghcr.io/org/python-ci:3.5-slim" {
		t.Errorf("unexpected image %s", got)
	}
}

func TestDockerRun(t *testing.T) {
	p := dockerProvisioner(t)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "os.sh"), []byte("cat /etc/os-release\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cell := models.Cell{ID: "alpine-3", Language: "alpine", Version: "3"}
	ws, err := workspace.New(t.TempDir(), "run", cell, src, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	env, err := p.Provision(ctx, cell, ws, []models.Variable{{Key: "TESTING_VARIABLE", Value: "TESTING"}})
	if err != nil {
		t.Skipf("could not provision container: %v", err)
	}
	defer env.Close(ctx)

	tests := []struct {
		Name    string
		Command string
		Code    int
		Expect  func(string) bool
	}{
		{"Test Image", "sh os.sh", 0, func(s string) bool { return strings.Contains(s, "Alpine Linux") }},
		{"Test Variables", "echo $TESTING_VARIABLE", 0, func(s string) bool { return strings.TrimSpace(s) == "TESTING" }},
		{"Test Export", "export CARRIED=over", 0, func(s string) bool { return true }},
		{"Test Carried State", "echo $CARRIED", 0, func(s string) bool { return strings.TrimSpace(s) == "over" }},
		{"Test Artifact", "echo TESTING >> log.txt", 0, func(s string) bool { return true }},
		{"Test Exit Code", "exit 4", 4, func(s string) bool { return true }},
	}

	for _, test := range tests {
		var b bytes.Buffer
		code, err := env.Exec(ctx, test.Command, &b, &b)
		if err != nil {
			t.Errorf("Test - %s: %v", test.Name, err)
			continue
		}
		if code != test.Code {
			t.Errorf("Test - %s: expected exit code %d, got %d", test.Name, test.Code, code)
		}
		if !test.Expect(b.String()) {
			t.Errorf("Test - %s: failed, output %q", test.Name, b.String())
		}
	}

	data, err := os.ReadFile(filepath.Join(ws.Src, "log.txt"))
	if err != nil || strings.TrimSpace(string(data)) != "TESTING" {
		t.Errorf("file written in the container not visible in the workspace: %v %q", err, data)
	}
}
