package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingModule struct {
	got chan interface{}
}

func (r *recordingModule) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	r.got <- newSettings
	return nil
}

func TestNewSettingsManager_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	sm, err := NewSettingsManager(path)
	if err != nil {
		t.Fatalf("NewSettingsManager() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected settings file to be created: %v", err)
	}

	s := sm.Get()
	if s.Query.Endpoint != DefaultEndpoint {
		t.Errorf("expected default endpoint, got '%s'", s.Query.Endpoint)
	}
	if s.Query.UsageDays != DefaultUsageDays {
		t.Errorf("expected usage days %d, got %d", DefaultUsageDays, s.Query.UsageDays)
	}
	if !s.Proxy.UseSysProxy || !s.Proxy.ThreadCountFromProxies || s.Proxy.MaxConnPerProxy != 1 {
		t.Errorf("unexpected proxy defaults: %+v", s.Proxy)
	}
}

func TestUpdate_PersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	sm, err := NewSettingsManager(path)
	if err != nil {
		t.Fatal(err)
	}
	sub := &recordingModule{got: make(chan interface{}, 1)}
	sm.Register("proxy", sub)

	before := sm.Get()
	payload := json.RawMessage(`{"use_sys_proxy":false,"proxies":[{"address":"http://127.0.0.1:8080","capacity":3},{"address":"socks5://127.0.0.1:1080"}],"max_conn_per_proxy":2}`)
	if err := sm.Update("proxy", payload); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	after := sm.Get()
	if after.Proxy.UseSysProxy {
		t.Error("expected use_sys_proxy to be false after update")
	}
	if len(after.Proxy.Proxies) != 2 || after.Proxy.Proxies[0].Capacity != 3 {
		t.Errorf("unexpected proxies: %+v", after.Proxy.Proxies)
	}
	if len(before.Proxy.Proxies) != 0 {
		t.Error("previous snapshot must not be mutated by Update")
	}

	select {
	case v := <-sub.got:
		if _, ok := v.(*ProxySettings); !ok {
			t.Errorf("expected *ProxySettings, got %T", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not notified")
	}

	reloaded, err := NewSettingsManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Get().Proxy.MaxConnPerProxy != 2 {
		t.Errorf("expected persisted max_conn_per_proxy 2, got %d", reloaded.Get().Proxy.MaxConnPerProxy)
	}
}

func TestUpdate_UnknownModule(t *testing.T) {
	sm, _ := NewSettingsManager("")
	if err := sm.Update("firewall", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unknown module")
	}
}

func TestUpdate_NormalizesValues(t *testing.T) {
	sm, _ := NewSettingsManager("")
	if err := sm.Update("query", json.RawMessage(`{"endpoint":"","usage_days":-5,"request_timeout_seconds":0}`)); err != nil {
		t.Fatal(err)
	}
	q := sm.Get().Query
	if q.Endpoint != DefaultEndpoint || q.UsageDays != DefaultUsageDays || q.RequestTimeoutSeconds != DefaultRequestTimeoutSeconds {
		t.Errorf("values were not normalized: %+v", q)
	}
}

func TestSnapshot_IsIndependent(t *testing.T) {
	sm, _ := NewSettingsManager("")
	snap := sm.Snapshot()
	snap.Proxy.Proxies = append(snap.Proxy.Proxies, &ProxyEntry{Address: "http://x:1"})
	snap.Query.UsageDays = 7
	if len(sm.Get().Proxy.Proxies) != 0 || sm.Get().Query.UsageDays != DefaultUsageDays {
		t.Error("mutating a snapshot leaked into the manager")
	}
}
