package storage

import (
	"net"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Selection is the set of applications and websites to restrict.
type Selection struct {
	Apps      []string  `json:"apps" yaml:"apps"`
	Sites     []string  `json:"sites" yaml:"sites"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Normalize reduces sites to bare host names, trims whitespace, drops empty
// entries and duplicates, and sorts both lists.
func (s Selection) Normalize() Selection {
	return Selection{
		Apps:      normalizeList(s.Apps, strings.TrimSpace),
		Sites:     normalizeList(s.Sites, SiteHost),
		UpdatedAt: s.UpdatedAt,
	}
}

// SiteHost returns the lower-cased host name of a site entry. URLs such as
// "https://news.example.com:443/path" and wildcards such as "*.example.com"
// reduce to the host, since subdomains always match.
func SiteHost(site string) string {
	v := strings.ToLower(strings.TrimSpace(site))
	if v == "" {
		return ""
	}

	if strings.Contains(v, "://") {
		u, err := url.Parse(v)
		if err != nil {
			return ""
		}
		v = u.Hostname()
	} else {
		if i := strings.IndexAny(v, "/?#"); i >= 0 {
			v = v[:i]
		}
		if i := strings.LastIndex(v, "@"); i >= 0 {
			v = v[i+1:]
		}
		if host, _, err := net.SplitHostPort(v); err == nil {
			v = host
		}
	}

	v = strings.TrimPrefix(v, "*.")
	return strings.Trim(v, ".[]")
}

// ShieldState is the restriction state seen by host agents.
type ShieldState struct {
	Active    bool      `json:"active"`
	Apps      []string  `json:"apps"`
	Sites     []string  `json:"sites"`
	UpdatedAt time.Time `json:"updated_at"`
}

func normalizeList(in []string, clean func(string) string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = clean(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
