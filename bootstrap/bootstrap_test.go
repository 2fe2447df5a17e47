package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/wyfcoding/cuckoo/cuckoo"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestBuildMemoryStore(t *testing.T) {
	path := writeConfig(t, `
[filter]
name = "memory-test"
estimated_max_keys = 500

[store]
driver = "memory"
`)
	b := New("cuckoo-test", "v0.0.1")
	cfg, err := b.LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	app, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	ctx := context.Background()
	if ok, err := app.Filter.Put(ctx, cuckoo.Text("hello")); err != nil || !ok {
		t.Fatalf("Put = %v, %v", ok, err)
	}
	if ok, _ := app.Filter.Contains(ctx, cuckoo.Text("hello")); !ok {
		t.Errorf("Contains after Put should be true")
	}
	st, err := app.Filter.Stats(ctx)
	if err != nil || st.Name != "memory-test" || st.BucketCount != 256 {
		t.Errorf("Stats = %+v, %v", st, err)
	}
}

func TestBuildRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	path := writeConfig(t, fmt.Sprintf(`
[filter]
estimated_max_keys = 100

[store]
driver = "redis"
key = "cf:bootstrap"

[data.redis]
addr = %q

[circuitbreaker]
enabled = true
`, mr.Addr()))

	b := New("cuckoo-test", "v0.0.1")
	cfg, err := b.LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	app, err := b.Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if _, err := app.Filter.Put(context.Background(), cuckoo.Int(99)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mr.Exists("cf:bootstrap") {
		t.Errorf("filter bits should live under the configured key")
	}
}

func TestBuildRedisUnreachable(t *testing.T) {
	path := writeConfig(t, `
[filter]
estimated_max_keys = 100

[data.redis]
addr = "127.0.0.1:1"
dial_timeout = "200ms"
`)
	b := New("cuckoo-test", "v0.0.1")
	cfg, err := b.LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := b.Build(cfg); err == nil {
		t.Fatalf("Build should fail when redis is unreachable")
	}
}
