package contracts

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	DomainPersistent    = "persistent"
	DomainNonPersistent = "non-persistent"
)

var (
	partitionSuffix = regexp.MustCompile(`-partition-\d+$`)
	nameChars       = regexp.MustCompile(`^[A-Za-z0-9_.:=%-]+$`)
)

// CheckNamePart reports whether s is usable as a tenant, namespace or local topic name.
func CheckNamePart(field, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("empty %s", field)
	case s == "." || s == "..":
		return fmt.Errorf("%s %q is not a valid name", field, s)
	case !nameChars.MatchString(s):
		return fmt.Errorf("%s %q may only contain letters, digits and _ . : = %% -", field, s)
	}
	return nil
}

// TopicName is a parsed Pulsar topic name.
type TopicName struct {
	Domain    string
	Tenant    string
	Namespace string
	Local     string
}

// ParseTopicName accepts "local", "tenant/namespace/local" and
// "{persistent|non-persistent}://tenant/namespace/local". Short forms are
// resolved against the given tenant and namespace.
func ParseTopicName(name, tenant, namespace string) (TopicName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return TopicName{}, fmt.Errorf("topic name must not be empty")
	}

	tn := TopicName{Domain: DomainPersistent, Tenant: tenant, Namespace: namespace}
	rest := name
	if domain, after, ok := strings.Cut(name, "://"); ok {
		if domain != DomainPersistent && domain != DomainNonPersistent {
			return TopicName{}, fmt.Errorf("topic %q: unknown domain %q", name, domain)
		}
		tn.Domain = domain
		rest = after
		if strings.Count(rest, "/") != 2 {
			return TopicName{}, fmt.Errorf("topic %q: expected %s://tenant/namespace/topic", name, domain)
		}
	}

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		tn.Local = parts[0]
	case 3:
		tn.Tenant, tn.Namespace, tn.Local = parts[0], parts[1], parts[2]
	default:
		return TopicName{}, fmt.Errorf("topic %q: expected topic or tenant/namespace/topic", name)
	}

	for _, part := range [][2]string{{"tenant", tn.Tenant}, {"namespace", tn.Namespace}, {"topic", tn.Local}} {
		if err := CheckNamePart(part[0], part[1]); err != nil {
			return TopicName{}, fmt.Errorf("topic %q: %w", name, err)
		}
	}
	return tn, nil
}

// String returns the fully qualified name.
func (t TopicName) String() string {
	return fmt.Sprintf("%s://%s/%s/%s", t.Domain, t.Tenant, t.Namespace, t.Local)
}

// Path returns the admin REST path segment "domain/tenant/namespace/local" with each
// part escaped.
func (t TopicName) Path() string {
	return t.Domain + "/" + url.PathEscape(t.Tenant) + "/" + url.PathEscape(t.Namespace) + "/" + url.PathEscape(t.Local)
}

// BaseLocalName strips a "-partition-N" suffix from a local or fully qualified topic name
// and returns the local part.
func BaseLocalName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return partitionSuffix.ReplaceAllString(name, "")
}

// ListingName is how a topic returned by a namespace listing is shown: partitions
// collapse to the base topic, persistent topics use their local name and
// non-persistent ones stay fully qualified so they resolve back to the same topic.
func ListingName(name string) string {
	base := partitionSuffix.ReplaceAllString(name, "")
	if strings.HasPrefix(base, DomainNonPersistent+"://") {
		return base
	}
	return BaseLocalName(base)
}
