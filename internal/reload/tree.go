package reload

import (
	"fmt"

	"github.com/ethan/streamcore/internal/config"
)

// VhostConfig is the subset of per-vhost directives the dispatcher
// diffs, per spec §4.11's named change events.
type VhostConfig struct {
	Enabled   bool
	Play      string
	Forward   string
	HLS       string
	DASH      string
	DVR       string
	Transcode string
}

// IngestConfig describes one configured pull/push ingest source.
type IngestConfig struct {
	ID  string
	URL string
}

// Tree is the parallel config tree spec §4.11 diffs directive-by-
// directive. It is intentionally flat (no nested parser types) since
// config file grammar itself is out of scope per spec §1 — this is the
// shape the reload dispatcher reasons about, populated by whatever
// loader internal/config uses.
type Tree struct {
	Listen     []string
	PithyPrint string
	Vhosts     map[string]VhostConfig
	Ingests    map[string]IngestConfig
}

// Validate reports a ConfigError-class problem with t, if any. Kept
// minimal since grammar validation itself lives in internal/config;
// this only checks invariants the dispatcher itself relies on.
func (t Tree) Validate() error {
	for name, v := range t.Vhosts {
		if name == "" {
			return fmt.Errorf("reload: vhost with empty name in tree (hls=%q)", v.HLS)
		}
	}
	return nil
}

// Diff compares old and next, returning one Change per detected
// directive difference. A vhost that is present-but-disabled in next
// and was enabled in old is reported as ChangeVhostRemoved per spec
// §4.11's "disabled ⇒ removed" rule.
func Diff(old, next Tree) []Change {
	var changes []Change

	if !stringSlicesEqual(old.Listen, next.Listen) {
		changes = append(changes, Change{Type: ChangeListen})
	}
	if old.PithyPrint != next.PithyPrint {
		changes = append(changes, Change{Type: ChangePithyPrint})
	}

	for name, nv := range next.Vhosts {
		ov, existed := old.Vhosts[name]
		switch {
		case (!existed || !ov.Enabled) && nv.Enabled:
			changes = append(changes, Change{Type: ChangeVhostAdded, Vhost: name})
		case existed && ov.Enabled && !nv.Enabled:
			changes = append(changes, Change{Type: ChangeVhostRemoved, Vhost: name})
		case existed && ov.Enabled && nv.Enabled:
			changes = append(changes, diffVhostFields(name, ov, nv)...)
		}
	}
	for name, ov := range old.Vhosts {
		if _, stillPresent := next.Vhosts[name]; !stillPresent && ov.Enabled {
			changes = append(changes, Change{Type: ChangeVhostRemoved, Vhost: name})
		}
	}

	for id, ni := range next.Ingests {
		oi, existed := old.Ingests[id]
		switch {
		case !existed:
			changes = append(changes, Change{Type: ChangeIngestAdded, Vhost: id})
		case oi.URL != ni.URL:
			changes = append(changes, Change{Type: ChangeIngestUpdated, Vhost: id})
		}
	}
	for id := range old.Ingests {
		if _, stillPresent := next.Ingests[id]; !stillPresent {
			changes = append(changes, Change{Type: ChangeIngestRemoved, Vhost: id})
		}
	}

	return changes
}

func diffVhostFields(name string, old, next VhostConfig) []Change {
	var changes []Change
	if old.Play != next.Play {
		changes = append(changes, Change{Type: ChangeVhostPlay, Vhost: name})
	}
	if old.Forward != next.Forward {
		changes = append(changes, Change{Type: ChangeVhostForward, Vhost: name})
	}
	if old.HLS != next.HLS {
		changes = append(changes, Change{Type: ChangeVhostHLS, Vhost: name})
	}
	if old.DASH != next.DASH {
		changes = append(changes, Change{Type: ChangeVhostDASH, Vhost: name})
	}
	if old.DVR != next.DVR {
		changes = append(changes, Change{Type: ChangeVhostDVR, Vhost: name})
	}
	if old.Transcode != next.Transcode {
		changes = append(changes, Change{Type: ChangeVhostTranscode, Vhost: name})
	}
	return changes
}

// TreeFromConfig projects a config.Tree (the full typed configuration
// object the CLI populates) down into the flat directive shape this
// package diffs, so the embedding CLI's fsnotify-driven config.Tree
// reload path can feed this dispatcher without either package knowing
// the other's full shape.
func TreeFromConfig(c *config.Tree) Tree {
	if c == nil {
		return Tree{}
	}
	t := Tree{
		Listen:  []string{c.Listen.RTMPAddr, c.Listen.HTTPAddr, c.Listen.SRTAddr, c.Listen.TSAddr, c.Listen.RTCAddr},
		Vhosts:  make(map[string]VhostConfig, len(c.Vhosts)),
		Ingests: make(map[string]IngestConfig),
	}
	for name, v := range c.Vhosts {
		t.Vhosts[name] = VhostConfig{
			Enabled:   !v.Disabled,
			Play:      fmt.Sprintf("%+v", v.Play),
			Forward:   fmt.Sprintf("%+v", v.Forward),
			HLS:       fmt.Sprintf("%+v", v.HLS),
			DASH:      fmt.Sprintf("%+v", v.DASH),
			DVR:       fmt.Sprintf("%+v", v.DVR),
			Transcode: "",
		}
	}
	return t
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
