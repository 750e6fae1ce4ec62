// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"testing"

	"github.com/conciergekit/concierge/internal/assert"
)

func TestRewriteAnnotations(t *testing.T) {
	testcases := []struct {
		description string
		text        string
		annotations []annotationData
		expected    string
		citations   []Citation
	}{
		{
			description: "no annotations",
			text:        "plain text",
			expected:    "plain text",
		},
		{
			description: "single citation",
			text:        "see 【4:0†source】 for details",
			annotations: []annotationData{
				newAnnotation("【4:0†source】", "file-1"),
			},
			expected: "see [0] for details",
			citations: []Citation{
				{Index: 0, FileID: "file-1"},
			},
		},
		{
			description: "repeated marker reuses index",
			text:        "【4:0†a】 and 【4:1†b】 and 【4:0†a】",
			annotations: []annotationData{
				newAnnotation("【4:0†a】", "file-1"),
				newAnnotation("【4:1†b】", "file-2"),
				newAnnotation("【4:0†a】", "file-1"),
			},
			expected: "[0] and [1] and [0]",
			citations: []Citation{
				{Index: 0, FileID: "file-1"},
				{Index: 1, FileID: "file-2"},
			},
		},
		{
			description: "non-citation annotations are ignored",
			text:        "download sandbox:/mnt/data/out.csv",
			annotations: []annotationData{
				{Type: "file_path", Text: "sandbox:/mnt/data/out.csv"},
			},
			expected: "download sandbox:/mnt/data/out.csv",
		},
	}

	for _, testcase := range testcases {
		t.Run(testcase.description, func(t *testing.T) {
			text, citations := rewriteAnnotations(testcase.text, testcase.annotations)
			assert.Equal(t, testcase.expected, text)
			assert.Equal(t, testcase.citations, citations)
		})
	}
}

func newAnnotation(text, fileID string) annotationData {
	annotation := annotationData{Type: "file_citation", Text: text}
	annotation.FileCitation.FileID = fileID

	return annotation
}
