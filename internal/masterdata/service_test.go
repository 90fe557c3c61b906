package masterdata

import "testing"

func TestValidateImportRow(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			"full_name":  "Siti Rahma",
			"username":   "siti.rahma",
			"password":   "supersecret",
			"email":      "siti@example.com",
			"class_name": "Grade 8A",
		}
	}

	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr bool
	}{
		{name: "valid row", mutate: func(m map[string]string) {}, wantErr: false},
		{name: "valid without email", mutate: func(m map[string]string) { m["email"] = "" }, wantErr: false},
		{name: "missing full name", mutate: func(m map[string]string) { m["full_name"] = "" }, wantErr: true},
		{name: "missing class", mutate: func(m map[string]string) { m["class_name"] = "" }, wantErr: true},
		{name: "short password", mutate: func(m map[string]string) { m["password"] = "short" }, wantErr: true},
		{name: "bad email", mutate: func(m map[string]string) { m["email"] = "not-an-email" }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			row := base()
			tc.mutate(row)
			err := validateImportRow(row)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateImportRow error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Full Name", want: "full_name"},
		{in: " class-name ", want: "class_name"},
		{in: "USERNAME", want: "username"},
		{in: "", want: ""},
	}

	for _, tc := range tests {
		if got := normalizeHeader(tc.in); got != tc.want {
			t.Errorf("normalizeHeader(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsRowEmpty(t *testing.T) {
	if !isRowEmpty([]string{"", "  ", ""}) {
		t.Fatalf("blank row should be empty")
	}
	if isRowEmpty([]string{"", "x", ""}) {
		t.Fatalf("row with a value should not be empty")
	}
}
