// Package engineconfig loads, validates, and persists the transport
// engine's JSON configuration document. The engine only reads this file at
// process start, so every mutation goes through an atomic replace and is
// preceded by an encrypted backup.
package engineconfig

import (
	"encoding/json"
	"fmt"
)

// Client is one subscriber entry in the inbound's client list.
type Client struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Flow  string `json:"flow,omitempty"`
}

// RealitySettings is the transport-security block carrying the active
// private key, the camouflage domains, and the accepted short IDs.
type RealitySettings struct {
	Show        bool     `json:"show"`
	Dest        string   `json:"dest,omitempty"`
	Xver        int      `json:"xver,omitempty"`
	ServerNames []string `json:"serverNames"`
	PrivateKey  string   `json:"privateKey"`
	ShortIds    []string `json:"shortIds"`
}

type inboundSettings struct {
	Clients    []Client `json:"clients"`
	Decryption string   `json:"decryption,omitempty"`
}

type streamSettings struct {
	Network  string           `json:"network,omitempty"`
	Security string           `json:"security,omitempty"`
	Reality  *RealitySettings `json:"realitySettings,omitempty"`
}

// inbound keeps settings blocks raw until we know this is the inbound we
// manage; foreign inbounds (api, metrics) round-trip untouched.
type inbound struct {
	Tag            string          `json:"tag,omitempty"`
	Listen         string          `json:"listen,omitempty"`
	Port           int             `json:"port"`
	Protocol       string          `json:"protocol"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	StreamSettings json.RawMessage `json:"streamSettings,omitempty"`
	Sniffing       json.RawMessage `json:"sniffing,omitempty"`
}

// PrimaryConfig is the engine's configuration document with the managed
// inbound decoded into typed form. Top-level sections other than inbounds
// (log, routing, outbounds, ...) round-trip as raw JSON.
type PrimaryConfig struct {
	sections map[string]json.RawMessage
	inbounds []inbound

	idx      int // index of the managed inbound
	settings inboundSettings
	stream   streamSettings
}

// Parse decodes and schema-validates a configuration document. Malformed
// documents fail here, before any value can propagate downstream.
func Parse(data []byte) (*PrimaryConfig, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("engineconfig: not a JSON document: %w", err)
	}

	rawInbounds, ok := sections["inbounds"]
	if !ok {
		return nil, fmt.Errorf("engineconfig: document has no inbounds section")
	}
	var inbounds []inbound
	if err := json.Unmarshal(rawInbounds, &inbounds); err != nil {
		return nil, fmt.Errorf("engineconfig: inbounds: %w", err)
	}
	delete(sections, "inbounds")

	cfg := &PrimaryConfig{sections: sections, inbounds: inbounds, idx: -1}
	for i, in := range inbounds {
		if len(in.StreamSettings) == 0 {
			continue
		}
		var ss streamSettings
		if err := json.Unmarshal(in.StreamSettings, &ss); err != nil {
			return nil, fmt.Errorf("engineconfig: inbound %d streamSettings: %w", i, err)
		}
		if ss.Security != "reality" {
			continue
		}
		if cfg.idx >= 0 {
			return nil, fmt.Errorf("engineconfig: multiple reality inbounds (at %d and %d), exactly one is supported", cfg.idx, i)
		}
		var is inboundSettings
		if len(in.Settings) > 0 {
			if err := json.Unmarshal(in.Settings, &is); err != nil {
				return nil, fmt.Errorf("engineconfig: inbound %d settings: %w", i, err)
			}
		}
		cfg.idx = i
		cfg.stream = ss
		cfg.settings = is
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *PrimaryConfig) validate() error {
	if c.idx < 0 {
		return fmt.Errorf("engineconfig: no reality inbound found")
	}
	in := c.inbounds[c.idx]
	if in.Port <= 0 || in.Port > 65535 {
		return fmt.Errorf("engineconfig: inbound port %d out of range", in.Port)
	}
	if in.Protocol == "" {
		return fmt.Errorf("engineconfig: inbound has no protocol")
	}
	r := c.stream.Reality
	if r == nil {
		return fmt.Errorf("engineconfig: reality inbound has no realitySettings block")
	}
	if r.PrivateKey == "" {
		return fmt.Errorf("engineconfig: realitySettings has empty privateKey")
	}
	if len(r.ServerNames) == 0 {
		return fmt.Errorf("engineconfig: realitySettings has no serverNames")
	}
	if len(r.ShortIds) == 0 {
		return fmt.Errorf("engineconfig: realitySettings has no shortIds")
	}
	for i, cl := range c.settings.Clients {
		if cl.ID == "" {
			return fmt.Errorf("engineconfig: client %d has empty id", i)
		}
	}
	return nil
}

// Marshal re-encodes the document, folding the typed inbound back in.
func (c *PrimaryConfig) Marshal() ([]byte, error) {
	settings, err := json.Marshal(c.settings)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: marshal settings: %w", err)
	}
	stream, err := json.Marshal(c.stream)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: marshal streamSettings: %w", err)
	}
	c.inbounds[c.idx].Settings = settings
	c.inbounds[c.idx].StreamSettings = stream

	rawInbounds, err := json.Marshal(c.inbounds)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: marshal inbounds: %w", err)
	}

	doc := make(map[string]json.RawMessage, len(c.sections)+1)
	for k, v := range c.sections {
		doc[k] = v
	}
	doc["inbounds"] = rawInbounds
	return json.MarshalIndent(doc, "", "  ")
}

// Accessors

func (c *PrimaryConfig) ListenPort() int { return c.inbounds[c.idx].Port }

func (c *PrimaryConfig) Protocol() string { return c.inbounds[c.idx].Protocol }

func (c *PrimaryConfig) Network() string {
	if c.stream.Network == "" {
		return "tcp"
	}
	return c.stream.Network
}

func (c *PrimaryConfig) PrivateKey() string { return c.stream.Reality.PrivateKey }

// ServerNames returns the configured camouflage domains.
func (c *PrimaryConfig) ServerNames() []string { return c.stream.Reality.ServerNames }

// ShortIDs returns the accepted short identifier list.
func (c *PrimaryConfig) ShortIDs() []string { return c.stream.Reality.ShortIds }

func (c *PrimaryConfig) Clients() []Client { return c.settings.Clients }

// Mutators. The credential set is replaced wholesale; there is no way to
// set the private key without also replacing the accepted short ID list.

func (c *PrimaryConfig) SetCredentials(privateKey, shortID string) {
	c.stream.Reality.PrivateKey = privateKey
	c.stream.Reality.ShortIds = []string{shortID}
}

func (c *PrimaryConfig) SetClients(clients []Client) {
	c.settings.Clients = clients
}
