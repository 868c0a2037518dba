package filter

import "testing"

func TestEmptyFilterAdmitsEverything(t *testing.T) {
	t.Parallel()

	f := New(nil, nil, nil)
	if !f.Admit("8-K", "12345", 1999) {
		t.Fatal("expected empty filter to admit any row")
	}
}

func TestFormMatchingNormalizes(t *testing.T) {
	t.Parallel()

	f := New([]string{"10-K", "10-K/A"}, nil, nil)

	tests := []struct {
		form string
		want bool
	}{
		{"10-K", true},
		{"10-k", true},
		{" 10-K/A ", true},
		{"10-K405", false},
		{"8-K", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := f.AdmitForm(tt.form); got != tt.want {
			t.Fatalf("AdmitForm(%q) = %v, want %v", tt.form, got, tt.want)
		}
	}
}

func TestCIKMatchingIgnoresLeadingZeros(t *testing.T) {
	t.Parallel()

	f := New(nil, []string{"0000320193", "789019"}, nil)

	if !f.AdmitCIK("320193") {
		t.Fatal("expected bare CIK to match zero-padded criterion")
	}
	if !f.AdmitCIK("0000789019") {
		t.Fatal("expected zero-padded CIK to match bare criterion")
	}
	if f.AdmitCIK("1018724") {
		t.Fatal("expected unlisted CIK to be rejected")
	}
}

func TestYearMatching(t *testing.T) {
	t.Parallel()

	f := New(nil, nil, []int{2022, 2023})
	if !f.AdmitYear(2023) {
		t.Fatal("expected 2023 to pass")
	}
	if f.AdmitYear(2021) {
		t.Fatal("expected 2021 to be rejected")
	}
}

func TestAdmitCombinesCriteria(t *testing.T) {
	t.Parallel()

	f := New([]string{"10-K"}, []string{"320193"}, []int{2023})
	if !f.Admit("10-k", "0000320193", 2023) {
		t.Fatal("expected row matching all criteria to pass")
	}
	if f.Admit("10-K", "0000320193", 2022) {
		t.Fatal("expected row failing one criterion to be rejected")
	}
}
