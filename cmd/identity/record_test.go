package identity

import (
	"testing"
	"time"
)

func TestRecordCloneIsIndependent(t *testing.T) {
	t.Parallel()

	username := "ada"
	rec := Record{
		ID:        "u1",
		CreatedAt: time.Now().UTC(),
		Username:  &username,
		Emails:    []Email{{Address: "ada@example.com"}},
		Profile:   map[string]any{"display": "Ada"},
		Services: map[string]ServiceData{
			"password": {"hash": "h"},
		},
		LoginTokens: []StampedToken{{Token: "tok"}},
	}

	c := rec.Clone()
	c.Emails[0].Address = "other@example.com"
	c.Profile["display"] = "Other"
	c.Services["password"]["hash"] = "changed"
	c.LoginTokens[0].Token = "changed"

	if rec.Emails[0].Address != "ada@example.com" {
		t.Fatalf("emails aliased")
	}
	if rec.Profile["display"] != "Ada" {
		t.Fatalf("profile aliased")
	}
	if rec.Services["password"]["hash"] != "h" {
		t.Fatalf("services aliased")
	}
	if rec.LoginTokens[0].Token != "tok" {
		t.Fatalf("tokens aliased")
	}
}

func TestRecordPublicOmitsCredentials(t *testing.T) {
	t.Parallel()

	username := "ada"
	rec := Record{
		ID:       "u1",
		Username: &username,
		Emails:   []Email{{Address: "ada@example.com", Verified: true}},
		Profile:  map[string]any{"display": "Ada"},
		Services: map[string]ServiceData{
			"password": {"hash": "h"},
		},
		LoginTokens: []StampedToken{{Token: "tok"}},
	}

	view := rec.Public()
	if view.ID != "u1" || view.Username == nil || *view.Username != "ada" {
		t.Fatalf("view=%+v", view)
	}
	if len(view.Emails) != 1 || view.Profile["display"] != "Ada" {
		t.Fatalf("view=%+v", view)
	}
}

func TestServiceIDMatches(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stored any
		id     string
		want   bool
	}{
		{stored: "abc", id: "abc", want: true},
		{stored: "abc", id: "xyz", want: false},
		{stored: float64(42), id: "42", want: true},
		{stored: float64(42.5), id: "42.5", want: true},
		{stored: int64(7), id: "7", want: true},
		{stored: int(7), id: "7", want: true},
		{stored: nil, id: "7", want: false},
		{stored: true, id: "true", want: false},
	}

	for _, tc := range cases {
		if got := serviceIDMatches(tc.stored, tc.id); got != tc.want {
			t.Fatalf("serviceIDMatches(%v, %q)=%v want=%v", tc.stored, tc.id, got, tc.want)
		}
	}
}
