package engineconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testDoc = `{
  "log": {"loglevel": "warning"},
  "routing": {"rules": []},
  "inbounds": [
    {
      "tag": "api",
      "port": 10085,
      "protocol": "dokodemo-door",
      "settings": {"address": "127.0.0.1"}
    },
    {
      "tag": "vless-in",
      "port": 443,
      "protocol": "vless",
      "settings": {
        "clients": [
          {"id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8", "email": "alice", "flow": "xtls-rprx-vision"}
        ],
        "decryption": "none"
      },
      "streamSettings": {
        "network": "tcp",
        "security": "reality",
        "realitySettings": {
          "show": false,
          "dest": "www.microsoft.com:443",
          "serverNames": ["www.microsoft.com"],
          "privateKey": "yPxmBfnCQOmZbTxeaTLjGhvGyk_GJPiYLYKQA33gp1A",
          "shortIds": ["0453245bd68b99ae"]
        }
      }
    }
  ],
  "outbounds": [{"protocol": "freedom"}]
}`

func TestParseRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(testDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ListenPort() != 443 {
		t.Errorf("port = %d, want 443", cfg.ListenPort())
	}
	if cfg.Protocol() != "vless" {
		t.Errorf("protocol = %q, want vless", cfg.Protocol())
	}
	if got := cfg.ServerNames(); len(got) != 1 || got[0] != "www.microsoft.com" {
		t.Errorf("serverNames = %v", got)
	}
	if len(cfg.Clients()) != 1 || cfg.Clients()[0].Email != "alice" {
		t.Errorf("clients = %+v", cfg.Clients())
	}

	out, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Foreign sections and the foreign inbound must survive untouched.
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	for _, section := range []string{"log", "routing", "outbounds", "inbounds"} {
		if _, ok := doc[section]; !ok {
			t.Errorf("section %q lost in round trip", section)
		}
	}
	if !strings.Contains(string(out), "dokodemo-door") {
		t.Error("foreign inbound lost in round trip")
	}

	if _, err := Parse(out); err != nil {
		t.Fatalf("re-parse marshaled document: %v", err)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(doc map[string]interface{})
		want   string
	}{
		{"empty private key", func(doc map[string]interface{}) {
			realityBlock(doc)["privateKey"] = ""
		}, "privateKey"},
		{"no server names", func(doc map[string]interface{}) {
			realityBlock(doc)["serverNames"] = []interface{}{}
		}, "serverNames"},
		{"no short ids", func(doc map[string]interface{}) {
			realityBlock(doc)["shortIds"] = []interface{}{}
		}, "shortIds"},
		{"port out of range", func(doc map[string]interface{}) {
			managedInbound(doc)["port"] = float64(70000)
		}, "out of range"},
		{"client without id", func(doc map[string]interface{}) {
			settings := managedInbound(doc)["settings"].(map[string]interface{})
			settings["clients"] = []interface{}{map[string]interface{}{"email": "ghost"}}
		}, "empty id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var doc map[string]interface{}
			if err := json.Unmarshal([]byte(testDoc), &doc); err != nil {
				t.Fatalf("fixture: %v", err)
			}
			tc.mutate(doc)
			data, _ := json.Marshal(doc)
			_, err := Parse(data)
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestParseRejectsMultipleRealityInbounds(t *testing.T) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(testDoc), &doc); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	inbounds := doc["inbounds"].([]interface{})
	doc["inbounds"] = append(inbounds, inbounds[1])
	data, _ := json.Marshal(doc)
	if _, err := Parse(data); err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Fatalf("err = %v, want multiple-inbound rejection", err)
	}
}

func TestParseRejectsNoRealityInbound(t *testing.T) {
	if _, err := Parse([]byte(`{"inbounds": [{"port": 80, "protocol": "http"}]}`)); err == nil {
		t.Fatal("expected error for document without a reality inbound")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected error for non-JSON input")
	}
}

func TestSetCredentialsReplacesShortIDList(t *testing.T) {
	cfg, err := Parse([]byte(testDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg.SetCredentials("newPrivateKeyMaterial_aaaaaaaaaaaaaaaaaaaaaa", "aabbccddeeff0011")
	if cfg.PrivateKey() != "newPrivateKeyMaterial_aaaaaaaaaaaaaaaaaaaaaa" {
		t.Errorf("privateKey = %q", cfg.PrivateKey())
	}
	if got := cfg.ShortIDs(); len(got) != 1 || got[0] != "aabbccddeeff0011" {
		t.Errorf("shortIds = %v, want exactly the new id", got)
	}
}

func TestStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "config.json"), filepath.Join(dir, "backups"))

	if err := os.WriteFile(store.Path(), []byte(testDoc), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg.SetCredentials("rotatedPrivateKey_bbbbbbbbbbbbbbbbbbbbbbbbbb", "1122334455667788")
	if err := store.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.PrivateKey() != "rotatedPrivateKey_bbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Errorf("reloaded privateKey = %q", reloaded.PrivateKey())
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope.json"), "")
	if _, err := store.Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// identity ciphers let backup tests run without a settings database
func stubCrypto(t *testing.T) {
	t.Helper()
	origEnc, origDec := encryptFunc, decryptFunc
	encryptFunc = func(b []byte) ([]byte, error) { return b, nil }
	decryptFunc = func(b []byte) ([]byte, error) { return b, nil }
	t.Cleanup(func() { encryptFunc, decryptFunc = origEnc, origDec })
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	stubCrypto(t)
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "config.json"), filepath.Join(dir, "backups"))
	if err := os.WriteFile(store.Path(), []byte(testDoc), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	info, err := store.Backup(cfg)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if info.Name == "" || info.Size == 0 {
		t.Fatalf("backup info = %+v", info)
	}

	// Clobber the live file, then restore.
	cfg.SetCredentials("clobberedKey_cccccccccccccccccccccccccccccccc", "ffffffffffffffff")
	if err := store.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	restored, err := store.RestoreBackup(info.Name)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PrivateKey() != "yPxmBfnCQOmZbTxeaTLjGhvGyk_GJPiYLYKQA33gp1A" {
		t.Errorf("restored privateKey = %q", restored.PrivateKey())
	}

	live, err := store.Load()
	if err != nil {
		t.Fatalf("reload after restore: %v", err)
	}
	if live.PrivateKey() != restored.PrivateKey() {
		t.Error("live file does not match restored snapshot")
	}
}

func TestRestoreBackupRejectsPathTraversal(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "config.json"), t.TempDir())
	if _, err := store.RestoreBackup("../etc/passwd"); err == nil {
		t.Fatal("expected error for path traversal name")
	}
}

func TestListBackupsNewestFirst(t *testing.T) {
	stubCrypto(t)
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "config.json"), filepath.Join(dir, "backups"))
	cfg, err := Parse([]byte(testDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var names []string
	for i := 0; i < 3; i++ {
		info, err := store.Backup(cfg)
		if err != nil {
			t.Fatalf("backup %d: %v", i, err)
		}
		names = append(names, info.Name)
	}

	infos, err := store.ListBackups()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("got %d backups, want 3", len(infos))
	}
	if infos[0].Name != names[2] {
		t.Errorf("newest backup = %s, want %s", infos[0].Name, names[2])
	}
}

func TestListBackupsMissingDirIsEmpty(t *testing.T) {
	store := NewStore("", filepath.Join(t.TempDir(), "nonexistent"))
	infos, err := store.ListBackups()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("got %d backups from missing dir", len(infos))
	}
}

func helperMap(doc map[string]interface{}, path ...string) map[string]interface{} {
	cur := doc
	for _, p := range path {
		cur = cur[p].(map[string]interface{})
	}
	return cur
}

func managedInbound(doc map[string]interface{}) map[string]interface{} {
	return doc["inbounds"].([]interface{})[1].(map[string]interface{})
}

func realityBlock(doc map[string]interface{}) map[string]interface{} {
	return helperMap(managedInbound(doc), "streamSettings", "realitySettings")
}
