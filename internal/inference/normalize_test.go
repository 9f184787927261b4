package inference

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "pos prefix and store number",
			in:   "POS SHELL #4821 *9921",
			want: "shell",
		},
		{
			name: "masked card fragment",
			in:   "VISA *1234 NETFLIX.COM",
			want: "visa netflix.com",
		},
		{
			name: "xxxx mask",
			in:   "xxxx9876 TRANSFER SAVINGS",
			want: "transfer savings",
		},
		{
			name: "x-dash mask",
			in:   "PAYROLL x-7001 ACME CORP",
			want: "payroll acme corp",
		},
		{
			name: "check prefix with reference number",
			in:   "CHK 100532 AMZN MKTP",
			want: "amzn mktp",
		},
		{
			name: "square prefix without space after star",
			in:   "SQ *COFFEE CART",
			want: "coffee cart",
		},
		{
			name: "toast prefix",
			in:   "TST* LUIGIS PIZZERIA",
			want: "luigis pizzeria",
		},
		{
			name: "long digit runs stripped",
			in:   "UBER TRIP 8839021 AUG18",
			want: "uber trip aug18",
		},
		{
			name: "two-digit tokens survive",
			in:   "7-11 STORE 22",
			want: "7-11 store 22",
		},
		{
			name: "separator soup collapsed",
			in:   "AMZN/Mktp_US|Seattle",
			want: "amzn mktp us seattle",
		},
		{
			name: "already clean",
			in:   "starbucks",
			want: "starbucks",
		},
		{
			name: "pure noise reduces to nothing",
			in:   "POS #4821 *9921 100532",
			want: "",
		},
		{
			name: "whitespace only",
			in:   "   ",
			want: "",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
		{
			name: "prefix word not stripped mid-name",
			in:   "POSH CAFE",
			want: "posh cafe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
