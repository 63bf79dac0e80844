package artifacts

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/veilnet/realityd/internal/database"
)

func testSubscriber() *database.Subscriber {
	return &database.Subscriber{
		ClientUUID:  "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Label:       "alice-laptop",
		Flow:        "xtls-rprx-vision",
		Fingerprint: "chrome",
		Network:     "tcp",
	}
}

var testCreds = Credentials{
	PublicKey: "tGv1WfRPC0gK1AnF8yhJqEMhQ2kZp7dNwW3bX9cY5mU",
	ShortID:   "0453245bd68b99ae",
}

var testNet = NetworkParams{Host: "203.0.113.7", Port: 443, ServerName: "www.microsoft.com"}

func TestBuildURIShape(t *testing.T) {
	uri := BuildURI(testSubscriber(), testCreds, testNet)

	if !strings.HasPrefix(uri, "vless://6ba7b810-9dad-11d1-80b4-00c04fd430c8@203.0.113.7:443?") {
		t.Fatalf("uri prefix wrong: %s", uri)
	}
	for _, want := range []string{
		"security=reality",
		"pbk=" + testCreds.PublicKey,
		"sid=0453245bd68b99ae",
		"sni=www.microsoft.com",
		"fp=chrome",
		"flow=xtls-rprx-vision",
		"type=tcp",
		"#alice-laptop",
	} {
		if !strings.Contains(uri, want) {
			t.Errorf("uri missing %q: %s", want, uri)
		}
	}
}

func TestBuildURIOmitsEmptyFlow(t *testing.T) {
	rec := testSubscriber()
	rec.Flow = ""
	uri := BuildURI(rec, testCreds, testNet)
	if strings.Contains(uri, "flow=") {
		t.Errorf("uri should have no flow parameter: %s", uri)
	}
}

func TestRegenerateIsIdempotent(t *testing.T) {
	p := NewPropagator(t.TempDir())
	rec := testSubscriber()

	first, err := p.Regenerate(rec, testCreds, testNet)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	second, err := p.Regenerate(rec, testCreds, testNet)
	if err != nil {
		t.Fatalf("regenerate again: %v", err)
	}

	if first.URI != second.URI {
		t.Errorf("uris differ:\n%s\n%s", first.URI, second.URI)
	}
	if !bytes.Equal(first.PNG, second.PNG) {
		t.Error("qr bytes differ between identical runs")
	}

	onDisk, err := os.ReadFile(second.URIPath)
	if err != nil {
		t.Fatalf("read uri file: %v", err)
	}
	if string(onDisk) != second.URI+"\n" {
		t.Errorf("uri file content = %q", onDisk)
	}
}

func TestRegenerateThenRemove(t *testing.T) {
	p := NewPropagator(t.TempDir())
	rec := testSubscriber()

	art, err := p.Regenerate(rec, testCreds, testNet)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if err := p.Remove(rec.Label); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, path := range []string{art.URIPath, art.PNGPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still exists after remove", path)
		}
	}
	// Removing again is a no-op, not an error.
	if err := p.Remove(rec.Label); err != nil {
		t.Errorf("second remove: %v", err)
	}
}

func TestSanitizeLabel(t *testing.T) {
	cases := map[string]string{
		"alice-laptop":   "alice-laptop",
		"bob's phone":    "bob_s_phone",
		"../../etc/cron": ".._.._etc_cron",
		"a/b\\c":         "a_b_c",
		"":               "subscriber",
		"Work.Tablet_v2": "Work.Tablet_v2",
	}
	for in, want := range cases {
		if got := sanitizeLabel(in); got != want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", in, got, want)
		}
		if strings.ContainsAny(sanitizeLabel(in), "/\\") {
			t.Errorf("sanitizeLabel(%q) kept a path separator", in)
		}
	}
}
