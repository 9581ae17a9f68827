package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calco/internal/aggregate"
	"calco/internal/config"
	"calco/internal/ledger/memory"
	"calco/internal/log"
	"calco/internal/services"
)

func TestEngineOptions(t *testing.T) {
	opts := EngineOptions(&config.Config{PropagationMode: "once", PropagationMaxVisits: 50})
	if opts.Mode != aggregate.Once || opts.MaxVisits != 50 {
		t.Errorf("unexpected options %+v", opts)
	}
	opts = EngineOptions(&config.Config{PropagationMode: "per-path", PropagationMaxVisits: -1})
	if opts.Mode != aggregate.PerPath || opts.MaxVisits != -1 {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestBootstrapAdminWritesInvitationFile(t *testing.T) {
	ctx := context.Background()
	accounts := services.NewAccountService(memory.New(), services.AccountOptions{}, nil)
	path := filepath.Join(t.TempDir(), "secrets", "invitation.txt")
	cfg := &config.Config{AdminHandle: "root", InvitationFile: path}

	if err := BootstrapAdmin(ctx, log.Discard(), accounts, cfg); err != nil {
		t.Fatalf("BootstrapAdmin: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read invitation file: %v", err)
	}
	if !strings.HasPrefix(string(data), "/signup?") || !strings.Contains(string(data), "handle=root") {
		t.Errorf("unexpected invitation file content %q", data)
	}
}
