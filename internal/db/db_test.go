package db

import "testing"

func TestRedactDSN(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"postgres://relay:s3cret@db:5432/relay?sslmode=disable", "postgres://relay:%2A%2A%2A%2A@db:5432/relay?sslmode=disable"},
		{"postgres://relay@db/relay", "postgres://relay@db/relay"},
		{"://bad", "(invalid POSTGRES_URL)"},
	}
	for _, tc := range cases {
		if got := redactDSN(tc.in); got != tc.want {
			t.Fatalf("redactDSN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one migration")
	}
}
