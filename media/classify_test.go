package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		file string
		want Class
	}{
		{
			name: "archive primary",
			file: "2023-05-12_media~7f3a.mp4",
			want: Class{Kind: KindPrimary, FromArchive: true},
		},
		{
			name: "overlay",
			file: "2023-05-12_overlay~7f3a.png",
			want: Class{Kind: KindOverlay, FromArchive: true},
		},
		{
			name: "identifier primary",
			file: "2023-05-12_b~aBc123.jpg",
			want: Class{Kind: KindPrimary, MediaID: "aBc123"},
		},
		{
			name: "thumbnail excluded",
			file: "2023-05-12_thumbnail~7f3a.jpg",
			want: Class{Kind: KindUnclassified},
		},
		{
			name: "thumbnail case insensitive",
			file: "2023-05-12_Thumbnail~7f3a.jpg",
			want: Class{Kind: KindUnclassified},
		},
		{
			name: "thumbnail wins over id marker",
			file: "2023-05-12_thumbnail_b~aBc123.jpg",
			want: Class{Kind: KindUnclassified},
		},
		{
			name: "no marker",
			file: "2023-05-12_export.jpg",
			want: Class{Kind: KindUnclassified},
		},
		{
			name: "id marker without extension",
			file: "2023-05-12_b~aBc123",
			want: Class{Kind: KindUnclassified},
		},
		{
			name: "tilde in id breaks match",
			file: "2023-05-12_b~ab~cd.jpg",
			want: Class{Kind: KindUnclassified},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.file))
		})
	}
}

func TestDayPrefix(t *testing.T) {
	assert.Equal(t, "2023-05-12", dayPrefix("2023-05-12_media~7f3a.mp4"))
	assert.Equal(t, "", dayPrefix("short"))
}
