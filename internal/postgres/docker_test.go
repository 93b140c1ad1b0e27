package postgres

import (
	"strings"
	"testing"
)

func TestNewDockerManagerDefaults(t *testing.T) {
	m, err := NewDockerManager(DockerConfig{Password: "pw"})
	if err != nil {
		t.Fatalf("NewDockerManager: %v", err)
	}
	defer m.Close()

	if m.containerName != DefaultContainerName {
		t.Errorf("containerName = %q", m.containerName)
	}
	if m.imageName != DefaultImage {
		t.Errorf("imageName = %q", m.imageName)
	}
	if m.hostPort != DefaultPort {
		t.Errorf("hostPort = %q", m.hostPort)
	}
	if m.labels[Label] != "true" {
		t.Error("default label missing")
	}
}

func TestNewDockerManagerRequiresPassword(t *testing.T) {
	if _, err := NewDockerManager(DockerConfig{}); err == nil {
		t.Fatal("expected error for missing password")
	}
}

func TestDSN(t *testing.T) {
	m, err := NewDockerManager(DockerConfig{Password: "pw", HostPort: "6000", Database: "jobs"})
	if err != nil {
		t.Fatalf("NewDockerManager: %v", err)
	}
	defer m.Close()

	dsn := m.DSN()
	for _, want := range []string{"postgres://", ":6000/", "/jobs", "clincite:pw@"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}
