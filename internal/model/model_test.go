package model

import (
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/mzrzvi/authcore/internal/errs"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	cases := map[string]Kind{"admin": KindAdmin, " Standard ": KindStandard}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParseKind("superadmin"); !errors.Is(err, errs.ErrInvalidRole) {
		t.Fatalf("want ErrInvalidRole, got %v", err)
	}
}

func TestPrincipalHelpers(t *testing.T) {
	t.Parallel()

	p := &Principal{Grants: []string{GrantUser}}
	if !p.Federated() {
		t.Fatalf("principal without hash must be federated")
	}
	if !p.HasGrant(GrantUser) || p.HasGrant(GrantSuperuser) {
		t.Fatalf("HasGrant mismatch: %v", p.Grants)
	}
	p.PasswordHash = []byte{1}
	if p.Federated() {
		t.Fatalf("principal with hash is not federated")
	}
}

func TestLookupAndUpdateEmpty(t *testing.T) {
	t.Parallel()

	if !(Lookup{}).Empty() {
		t.Fatalf("zero lookup must be empty")
	}
	if (Lookup{ID: uuid.Must(uuid.NewV4())}).Empty() {
		t.Fatalf("lookup with id is not empty")
	}
	name := "x"
	if !(ProfileUpdate{}).Empty() || (ProfileUpdate{FirstName: &name}).Empty() {
		t.Fatalf("ProfileUpdate.Empty mismatch")
	}
	var c *Claims
	if !c.Empty() || (&Claims{Subject: "1"}).Empty() {
		t.Fatalf("Claims.Empty mismatch")
	}
}
