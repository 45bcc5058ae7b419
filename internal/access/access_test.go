package access

import (
	"errors"
	"testing"
)

func TestOwnershipExactMatch(t *testing.T) {
	owner := Identity{UserID: 1, OrgID: 10}
	o := &Ownership{Owner: func(clusterID uint) (Identity, error) {
		return owner, nil
	}}

	if err := o.Authorize(owner, 1); err != nil {
		t.Fatalf("owner denied: %v", err)
	}
}

func TestOwnershipDeniesNonOwner(t *testing.T) {
	o := &Ownership{Owner: func(clusterID uint) (Identity, error) {
		return Identity{UserID: 1, OrgID: 10}, nil
	}}

	cases := []struct {
		name   string
		caller Identity
	}{
		{"different user", Identity{UserID: 2, OrgID: 10}},
		{"different org", Identity{UserID: 1, OrgID: 11}},
		{"org match only", Identity{UserID: 3, OrgID: 10}},
		{"zero identity", Identity{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := o.Authorize(tc.caller, 1); !errors.Is(err, ErrDenied) {
				t.Fatalf("err = %v, want ErrDenied", err)
			}
		})
	}
}

func TestOwnershipFailsClosed(t *testing.T) {
	caller := Identity{UserID: 1, OrgID: 10}

	cases := []struct {
		name string
		o    *Ownership
	}{
		{"nil lookup", &Ownership{}},
		{"lookup error", &Ownership{Owner: func(uint) (Identity, error) {
			return Identity{UserID: 1, OrgID: 10}, errors.New("database is down")
		}}},
		{"zero owner record", &Ownership{Owner: func(uint) (Identity, error) {
			return Identity{}, nil
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.o.Authorize(caller, 1); !errors.Is(err, ErrDenied) {
				t.Fatalf("err = %v, want ErrDenied", err)
			}
		})
	}
}
