package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamesAndIndex(t *testing.T) {
	records := []ImageRecord{
		{Name: "Extracted_Image_1.png", Page: 1},
		{Name: "Extracted_Image_2.png", Page: 1},
		{Name: "Extracted_Image_3.png", Page: 4},
	}

	assert.Equal(t, []string{"Extracted_Image_1.png", "Extracted_Image_2.png", "Extracted_Image_3.png"}, Names(records))
	assert.Equal(t, PageIndex{
		"Extracted_Image_1.png": 1,
		"Extracted_Image_2.png": 1,
		"Extracted_Image_3.png": 4,
	}, Index(records))
}
