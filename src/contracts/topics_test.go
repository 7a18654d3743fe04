package contracts

import (
	"strings"
	"testing"
)

func TestParseTopicName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{"short name", "orders", "persistent://public/default/orders", ""},
		{"tenant and namespace", "acme/billing/invoices", "persistent://acme/billing/invoices", ""},
		{"non-persistent", "non-persistent://acme/billing/ticks", "non-persistent://acme/billing/ticks", ""},
		{"allowed punctuation", "a_b.c:d=e-f", "persistent://public/default/a_b.c:d=e-f", ""},
		{"empty", "  ", "", "must not be empty"},
		{"unknown domain", "queue://a/b/c", "", "unknown domain"},
		{"two parts", "a/b", "", "expected topic"},
		{"fragment", "victim#ignored", "", "may only contain"},
		{"query", "orders?x=1", "", "may only contain"},
		{"space", "my topic", "", "may only contain"},
		{"dot", ".", "", "not a valid name"},
		{"dot-dot namespace", "public/../orders", "", "not a valid name"},
		{"empty tenant", "persistent:///default/orders", "", "empty tenant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tn, err := ParseTopicName(tt.input, "public", "default")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("ParseTopicName(%q) error = %v, want mention of %q", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTopicName(%q) unexpected error: %v", tt.input, err)
			}
			if tn.String() != tt.want {
				t.Errorf("ParseTopicName(%q) = %s, want %s", tt.input, tn, tt.want)
			}
		})
	}
}

func TestTopicName_Path(t *testing.T) {
	tn := TopicName{Domain: DomainPersistent, Tenant: "public", Namespace: "default", Local: "a%b#c"}
	if got, want := tn.Path(), "persistent/public/default/a%25b%23c"; got != want {
		t.Errorf("Path() = %s, want %s", got, want)
	}
}

func TestListingName(t *testing.T) {
	tests := map[string]string{
		"persistent://public/default/orders":                "orders",
		"persistent://public/default/orders-partition-3":    "orders",
		"non-persistent://public/default/ticks-partition-0": "non-persistent://public/default/ticks",
		"non-persistent://public/default/ticks":             "non-persistent://public/default/ticks",
	}
	for in, want := range tests {
		if got := ListingName(in); got != want {
			t.Errorf("ListingName(%q) = %q, want %q", in, got, want)
		}
	}
}
