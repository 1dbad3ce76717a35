package update

import (
	"strings"

	svnbridge "github.com/HYDPublic/SvnBridge"
)

// ClientState is the working-copy state the client reports with an update
// request: paths it has (with the revision it has them at) and paths it has
// locally marked absent. Lookups honor the path case policy.
type ClientState struct {
	policy   svnbridge.CasePolicy
	existing map[string]int
	exact    map[string]string // folded -> as-reported spelling
	missing  map[string]string
}

func NewClientState(policy svnbridge.CasePolicy) *ClientState {
	return &ClientState{
		policy:   policy,
		existing: make(map[string]int),
		exact:    make(map[string]string),
		missing:  make(map[string]string),
	}
}

// AddExisting records that the client has path at revision.
func (s *ClientState) AddExisting(path string, revision int) {
	k := s.policy.Fold(path)
	s.existing[k] = revision
	s.exact[k] = strings.TrimSuffix(path, "/")
}

// AddMissing records that the client has locally marked path absent. The
// cookie is opaque; it is stored with the entry and not read back.
func (s *ClientState) AddMissing(path, cookie string) {
	s.missing[s.policy.Fold(path)] = cookie
}

// Revision returns the revision the client reports for exactly path.
func (s *ClientState) Revision(path string) (int, bool) {
	rev, ok := s.existing[s.policy.Fold(path)]
	return rev, ok
}

// HasAtLeast reports whether the client has path, or any ancestor of it,
// at a revision >= rev.
func (s *ClientState) HasAtLeast(path string, rev int) bool {
	for {
		if r, ok := s.existing[s.policy.Fold(path)]; ok && r >= rev {
			return true
		}
		if svnbridge.IsRootPath(path) {
			return false
		}
		path = svnbridge.ParentPath(path)
	}
}

// Has reports whether the client has path or an ancestor at any revision.
func (s *ClientState) Has(path string) bool {
	for {
		if _, ok := s.existing[s.policy.Fold(path)]; ok {
			return true
		}
		if svnbridge.IsRootPath(path) {
			return false
		}
		path = svnbridge.ParentPath(path)
	}
}

// IsMissing reports whether the client marked path, or any ancestor of it,
// absent.
func (s *ClientState) IsMissing(path string) bool {
	for {
		if _, ok := s.missing[s.policy.Fold(path)]; ok {
			return true
		}
		if svnbridge.IsRootPath(path) {
			return false
		}
		path = svnbridge.ParentPath(path)
	}
}

// ExistingUnder returns the as-reported client paths strictly below
// prefix.
func (s *ClientState) ExistingUnder(prefix string) []string {
	var out []string
	for k, spelled := range s.exact {
		if s.policy.IsAncestor(prefix, k) {
			out = append(out, spelled)
		}
	}
	return out
}
