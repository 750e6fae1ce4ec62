// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge_test

import (
	"errors"
	"testing"

	"github.com/conciergekit/concierge"
	"github.com/conciergekit/concierge/internal/assert"
)

func TestPartialError(t *testing.T) {
	partial := &concierge.PartialError{
		Deleted: []string{"thread chat", "vector store vs-1"},
		Failed: map[string]error{
			"notes":   errors.New("boom"),
			"archive": errors.New("boom"),
		},
	}

	// Failed names come out sorted regardless of map order.
	assert.Equal(t, "2 deleted, 2 failed (archive, notes)", partial.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, concierge.Kind(0), concierge.KindOf(errors.New("plain")))
	assert.Equal(t, concierge.Kind(0), concierge.KindOf(concierge.ErrAlreadyDeleted))
}
