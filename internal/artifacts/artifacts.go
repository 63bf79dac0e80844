// Package artifacts derives per-subscriber connection artifacts: the plain
// connection URI and its QR image. Both are pure functions of the
// subscriber record, the active credential set, and the network parameters,
// so regeneration is idempotent and safe to re-run at any time.
package artifacts

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/veilnet/realityd/internal/atomicfile"
	"github.com/veilnet/realityd/internal/database"
)

const qrSize = 512

// NetworkParams are the connection-side parameters embedded in every URI.
type NetworkParams struct {
	Host       string
	Port       int
	ServerName string // camouflage domain presented during the handshake
}

// Credentials is the subscriber-visible part of the active credential set.
type Credentials struct {
	PublicKey string
	ShortID   string
}

// Artifact is the derived output for one subscriber.
type Artifact struct {
	URI     string `json:"uri"`
	PNG     []byte `json:"-"`
	URIPath string `json:"uri_path"`
	PNGPath string `json:"png_path"`
}

// BuildURI renders the canonical connection descriptor. Query parameters
// are encoded in sorted order so identical inputs always produce identical
// bytes.
func BuildURI(rec *database.Subscriber, creds Credentials, np NetworkParams) string {
	q := url.Values{}
	q.Set("type", rec.Network)
	q.Set("security", "reality")
	q.Set("pbk", creds.PublicKey)
	q.Set("sid", creds.ShortID)
	q.Set("sni", np.ServerName)
	q.Set("fp", rec.Fingerprint)
	if rec.Flow != "" {
		q.Set("flow", rec.Flow)
	}

	u := url.URL{
		Scheme:   "vless",
		User:     url.User(rec.ClientUUID),
		Host:     fmt.Sprintf("%s:%d", np.Host, np.Port),
		RawQuery: q.Encode(),
		Fragment: rec.Label,
	}
	return u.String()
}

// Propagator writes artifacts under a per-subscriber directory layout.
type Propagator struct {
	dir string
}

func NewPropagator(dir string) *Propagator {
	return &Propagator{dir: dir}
}

// Regenerate rebuilds both artifacts for one subscriber and writes them
// atomically. Called for every subscriber on rotation and from the
// reconcile path.
func (p *Propagator) Regenerate(rec *database.Subscriber, creds Credentials, np NetworkParams) (*Artifact, error) {
	uri := BuildURI(rec, creds, np)

	png, err := qrcode.Encode(uri, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("artifacts: encode qr for %s: %w", rec.Label, err)
	}

	if err := os.MkdirAll(p.dir, 0700); err != nil {
		return nil, fmt.Errorf("artifacts: create dir: %w", err)
	}

	base := sanitizeLabel(rec.Label)
	uriPath := filepath.Join(p.dir, base+".txt")
	pngPath := filepath.Join(p.dir, base+".png")

	if err := atomicfile.Write(uriPath, []byte(uri+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("artifacts: write uri for %s: %w", rec.Label, err)
	}
	if err := atomicfile.Write(pngPath, png, 0600); err != nil {
		return nil, fmt.Errorf("artifacts: write qr for %s: %w", rec.Label, err)
	}

	return &Artifact{URI: uri, PNG: png, URIPath: uriPath, PNGPath: pngPath}, nil
}

// Remove deletes a departed subscriber's artifacts. Missing files are fine.
func (p *Propagator) Remove(label string) error {
	base := sanitizeLabel(label)
	for _, ext := range []string{".txt", ".png"} {
		if err := os.Remove(filepath.Join(p.dir, base+ext)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// sanitizeLabel maps a subscriber label to a safe file name.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "subscriber"
	}
	return b.String()
}
