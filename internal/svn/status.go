package svn

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"sort"
)

// Item values reported in <wc-status item="...">.
const (
	ItemExternal    = "external"
	ItemIgnored     = "ignored"
	ItemUnversioned = "unversioned"
	ItemNormal      = "normal"
)

// Entry is one line of `svn status`.
type Entry struct {
	// Path is absolute.
	Path string
	Item string
}

// Status is the parsed status of a working copy.
type Status struct {
	Root    string
	Entries []Entry
}

// Externals returns external definitions relative to the root, sorted.
func (s *Status) Externals() []string {
	var out []string
	for _, e := range s.Entries {
		if e.Item != ItemExternal {
			continue
		}
		rel, err := filepath.Rel(s.Root, e.Path)
		if err != nil || rel == "." {
			continue
		}
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// Ignored returns ignored entries as absolute paths, sorted.
func (s *Status) Ignored() []string {
	var out []string
	for _, e := range s.Entries {
		if e.Item == ItemIgnored {
			out = append(out, e.Path)
		}
	}
	sort.Strings(out)
	return out
}

// Items maps every entry path to its item.
func (s *Status) Items() map[string]string {
	m := make(map[string]string, len(s.Entries))
	for _, e := range s.Entries {
		m[e.Path] = e.Item
	}
	return m
}

type statusDoc struct {
	XMLName xml.Name       `xml:"status"`
	Targets []statusTarget `xml:"target"`
}

type statusTarget struct {
	Path    string        `xml:"path,attr"`
	Entries []statusEntry `xml:"entry"`
}

type statusEntry struct {
	Path     string `xml:"path,attr"`
	WCStatus struct {
		Item  string `xml:"item,attr"`
		Props string `xml:"props,attr"`
	} `xml:"wc-status"`
}

// ParseStatus parses `svn status --xml` output. Relative entry paths are
// joined to root.
func ParseStatus(root string, data []byte) (*Status, error) {
	var doc statusDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing svn status: %w", err)
	}

	st := &Status{Root: root}
	for _, target := range doc.Targets {
		for _, e := range target.Entries {
			p := e.Path
			if !filepath.IsAbs(p) {
				p = filepath.Join(root, p)
			}
			st.Entries = append(st.Entries, Entry{Path: filepath.Clean(p), Item: e.WCStatus.Item})
		}
	}
	return st, nil
}
