package mirror

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oneconcern/snapback/pkg/core/status"
)

// rule is a compiled exclude pattern, following the conventions of rsync:
//
//	*.tmp      matches a base name at any depth
//	/build     is anchored at the root of the transfer
//	cache/     only matches directories
//	a/**/b     with an inner slash, matches the trailing components of a path
type rule struct {
	pattern  string
	anchored bool
	dirOnly  bool
	nested   bool
}

type excludes []rule

func compile(patterns []string) (excludes, error) {
	rules := make(excludes, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		r := rule{}
		if strings.HasSuffix(p, "/") {
			r.dirOnly = true
			p = strings.TrimRight(p, "/")
		}
		if strings.HasPrefix(p, "/") {
			r.anchored = true
			p = strings.TrimLeft(p, "/")
		}
		if p == "" {
			continue
		}
		r.nested = strings.Contains(p, "/")
		if !doublestar.ValidatePattern(p) {
			return nil, status.ErrValidation.Wrapf("invalid exclude pattern %q", p)
		}
		r.pattern = p
		rules = append(rules, r)
	}
	return rules, nil
}

// match tells if a path, relative to the root of the transfer and using forward slashes, is excluded
func (x excludes) match(rel string, isDir bool) bool {
	for _, r := range x {
		if r.dirOnly && !isDir {
			continue
		}
		if r.matches(rel) {
			return true
		}
	}
	return false
}

func (r rule) matches(rel string) bool {
	switch {
	case r.anchored:
		return matchPattern(r.pattern, rel)
	case !r.nested:
		return matchPattern(r.pattern, path.Base(rel))
	}

	// try every suffix of the path made of whole components
	candidate := rel
	for {
		if matchPattern(r.pattern, candidate) {
			return true
		}
		i := strings.Index(candidate, "/")
		if i < 0 {
			return false
		}
		candidate = candidate[i+1:]
	}
}

func matchPattern(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
