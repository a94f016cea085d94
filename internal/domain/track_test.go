package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrack_Valid(t *testing.T) {
	ok := Track{ID: "t1", Title: "Song", Artist: "Band", DurationSeconds: 180}
	assert.True(t, ok.Valid())

	zero := ok
	zero.DurationSeconds = 0
	assert.True(t, zero.Valid())

	cases := map[string]func(*Track){
		"no id":             func(tr *Track) { tr.ID = "" },
		"no title":          func(tr *Track) { tr.Title = "" },
		"no artist":         func(tr *Track) { tr.Artist = "" },
		"negative duration": func(tr *Track) { tr.DurationSeconds = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tr := ok
			mutate(&tr)
			assert.False(t, tr.Valid())
		})
	}
}
