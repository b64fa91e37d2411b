package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/bosonnetwork/godht/internal/testutil"
)

func TestLoadConfigDefaults(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Port != 39001 {
		t.Fatalf("expected default port 39001, got %d", AppConfig.Port)
	}
	if !AppConfig.EnableSpamThrottling || !AppConfig.EnableSuspiciousNodeDetector {
		t.Fatalf("expected throttling and suspicious-node detection on by default")
	}
	if AppConfig.ValueExpiration != "2h" || AppConfig.PeerExpiration != "2h" {
		t.Fatalf("expected 2h default expirations, got %s/%s", AppConfig.ValueExpiration, AppConfig.PeerExpiration)
	}
}

func TestLoadConfigSandboxOverride(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("port: 9000\nenable_developer_mode: true\ndata_dir: /tmp/godht\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", AppConfig.Port)
	}
	if !AppConfig.EnableDeveloperMode {
		t.Fatalf("expected developer mode on")
	}
	if AppConfig.DataDir != "/tmp/godht" {
		t.Fatalf("expected data_dir override, got %s", AppConfig.DataDir)
	}
}
