package tool

import "sort"

// Permission decides which tools a request may use. The zero value denies
// everything; callers must opt in with AllowAll or Restrict. An unrestricted
// permission and a restriction to zero tools are distinct states, so "no
// policy configured" can never silently widen into "allow everything".
type Permission struct {
	unrestricted bool
	allowed      map[string]struct{}
}

// AllowAll permits every registered tool.
func AllowAll() Permission {
	return Permission{unrestricted: true}
}

// Restrict permits only the named tools. Restrict() with no names denies all.
func Restrict(names ...string) Permission {
	allowed := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name != "" {
			allowed[name] = struct{}{}
		}
	}
	return Permission{allowed: allowed}
}

// Allows reports whether the named tool may run under this permission.
func (p Permission) Allows(name string) bool {
	if p.unrestricted {
		return true
	}
	_, ok := p.allowed[name]
	return ok
}

// Unrestricted reports whether every tool is permitted.
func (p Permission) Unrestricted() bool { return p.unrestricted }

// Names lists the allowed tool names sorted; nil when unrestricted.
func (p Permission) Names() []string {
	if p.unrestricted {
		return nil
	}
	names := make([]string, 0, len(p.allowed))
	for name := range p.allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
