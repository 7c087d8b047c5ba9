package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mantoine56/spec-bot/internal/logging"
)

func TestRedactor_SetAllowlist(t *testing.T) {
	text := "const key = \"" + sampleKey + "\""
	r := newRedactor(t, nil)
	if !r.Redact(text).HasFindings() {
		t.Skip("gitleaks did not flag the sample key")
	}

	require.NoError(t, r.SetAllowlist(&Allowlist{Regexes: []string{`sk-proj-[a-z0-9]+`}}))
	assert.False(t, r.Redact(text).HasFindings())

	err := r.SetAllowlist(&Allowlist{Regexes: []string{"([unclosed"}})
	assert.ErrorIs(t, err, ErrInvalidRegex)
	assert.False(t, r.Redact(text).HasFindings(), "failed update keeps previous allowlist")

	disabled, err := New(false, nil)
	require.NoError(t, err)
	assert.NoError(t, disabled.SetAllowlist(&Allowlist{Regexes: []string{"([unclosed"}}))
}

func TestRedactor_WatchAllowlist(t *testing.T) {
	text := "const key = \"" + sampleKey + "\""
	r := newRedactor(t, nil)
	if !r.Redact(text).HasFindings() {
		t.Skip("gitleaks did not flag the sample key")
	}

	path := filepath.Join(t.TempDir(), "allowlist.toml")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan error, 4)
	log := logging.NewTestLogger()
	require.NoError(t, r.WatchAllowlist(ctx, path, log.Logger, func(err error) { reloads <- err }))

	require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = ['''sk-proj-[a-z0-9]+''']\n"), 0o600))
	waitReload(t, reloads, false)
	assert.False(t, r.Redact(text).HasFindings())

	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))
	waitReload(t, reloads, true)
	assert.False(t, r.Redact(text).HasFindings(), "broken file keeps previous allowlist")
	assert.NotZero(t, log.FilterMessage("allowlist reload failed").Len())
}

func TestRedactor_WatchAllowlist_Disabled(t *testing.T) {
	r, err := New(false, nil)
	require.NoError(t, err)
	assert.NoError(t, r.WatchAllowlist(context.Background(), "/does/not/matter.toml", nil, nil))

	enabled := newRedactor(t, nil)
	assert.NoError(t, enabled.WatchAllowlist(context.Background(), "", nil, nil))
}

// waitReload drains reload results until one matches wantErr. Editors and
// os.WriteFile can produce several events per save.
func waitReload(t *testing.T, reloads <-chan error, wantErr bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case err := <-reloads:
			if (err != nil) == wantErr {
				return
			}
		case <-deadline:
			t.Fatalf("no reload with error=%t", wantErr)
		}
	}
}
