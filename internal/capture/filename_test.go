package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		fallback string
		want     string
	}{
		{"appends extension", "https://example.com/doc?filename=report", "", "report.pdf"},
		{"keeps extension", "https://example.com/doc?filename=Resume.PDF", "", "Resume.PDF"},
		{"no parameter", "https://example.com/doc", "", DefaultFilename},
		{"custom fallback", "https://example.com/doc", "out.pdf", "out.pdf"},
		{"empty parameter", "https://example.com/doc?filename=", "", DefaultFilename},
		{"strips directories", "https://example.com/doc?filename=../../etc/passwd", "", "passwd.pdf"},
		{"strips windows separators", `https://example.com/doc?filename=a%5Cb%5Ccv`, "", "cv.pdf"},
		{"dot dot only", "https://example.com/doc?filename=..", "", DefaultFilename},
		{"unparseable url", "://bad", "", DefaultFilename},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ResolveFilename(tc.url, tc.fallback))
		})
	}
}
