package rag

import "testing"

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{
			name: "case_insensitive",
			a:    "Neoflex строит MLOps платформы",
			b:    "neoflex строит mlops платформы",
			same: true,
		},
		{
			name: "whitespace_collapsed",
			a:    "Hello  world",
			b:    "hello world",
			same: true,
		},
		{
			name: "leading_trailing_whitespace",
			a:    "  документ про офисы \n",
			b:    "документ про офисы",
			same: true,
		},
		{
			name: "different_content",
			a:    "офис в Москве",
			b:    "офис в Саратове",
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fpA := Fingerprint(tt.a)
			fpB := Fingerprint(tt.b)
			if (fpA == fpB) != tt.same {
				t.Errorf("Fingerprint(%q)=%s, Fingerprint(%q)=%s, want same=%v",
					tt.a, fpA, tt.b, fpB, tt.same)
			}
			if len(fpA) != 16 {
				t.Errorf("fingerprint length = %d, want 16", len(fpA))
			}
		})
	}
}

func TestPassageFingerprintIgnoresMetadata(t *testing.T) {
	a := Passage{Content: "Компания основана в 2005 году", Metadata: map[string]string{"url": "https://a"}}
	b := Passage{Content: "компания  основана в 2005 году", Metadata: map[string]string{"url": "https://b"}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint should depend on content only")
	}
}
